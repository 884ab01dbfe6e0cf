package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// NewCreateCommand creates a new `hypermerge create` command.
func NewCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "create a new document",
		Long: `create allocates a fresh writable log and an empty document,
printing the new document's id. Use that id with open, change, merge,
and fork.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := factory().Engine()
			if err != nil {
				return err
			}
			docID, _, err := e.Create(context.Background())
			if err != nil {
				return err
			}
			PrintSuccess("created %s", docID)
			return nil
		},
	}
}
