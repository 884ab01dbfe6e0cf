package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/qri-io/hypermerge/actor"
)

// NewForkCommand creates a new `hypermerge fork` command.
func NewForkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fork PARENTID",
		Short: "fork a document into a new writable log sharing its group",
		Long: `fork allocates a fresh actor keypair, writes metadata pointing
back at PARENTID, and seeds the new log with a merge of the parent's
current state. Later changes to the parent do not automatically appear
on the fork, and vice versa, until an explicit merge.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID := actor.ID(args[0])

			e, err := factory().Engine()
			if err != nil {
				return err
			}
			forkID, _, err := e.Fork(context.Background(), parentID)
			if err != nil {
				return err
			}
			PrintSuccess("forked %s from %s", forkID, parentID)
			return nil
		},
	}
}
