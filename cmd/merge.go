package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/qri-io/hypermerge/actor"
)

// NewMergeCommand creates a new `hypermerge merge` command.
func NewMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge DESTID SOURCEID",
		Short: "merge SOURCEID's document into DESTID's, authored as DESTID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			destID, srcID := actor.ID(args[0]), actor.ID(args[1])

			e, err := factory().Engine()
			if err != nil {
				return err
			}
			doc, err := e.Merge(context.Background(), destID, srcID)
			if err != nil {
				return err
			}
			PrintSuccess("merged into %s, %d fields", destID, len(doc.Fields()))
			return nil
		},
	}
}
