package cmd

import (
	"github.com/spf13/cobra"

	"github.com/qri-io/hypermerge/actor"
)

// NewDeleteCommand creates a new `hypermerge delete` command.
func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete DOCID",
		Short: "evict a document from this process's registry and cache",
		Long: `delete removes DOCID from the in-memory registry and document
cache. It does not remove blocks already written to the archive: a
later open for the same id re-attaches to the data on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docID := actor.ID(args[0])

			e, err := factory().Engine()
			if err != nil {
				return err
			}
			if err := e.Delete(docID); err != nil {
				return err
			}
			PrintSuccess("deleted %s", docID)
			return nil
		},
	}
}
