package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qri-io/hypermerge/actor"
)

// NewOpenCommand creates a new `hypermerge open` command.
func NewOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open DOCID",
		Short: "sync and print a document's current fields",
		Long: `open ensures a log handle exists for DOCID, runs the causal
loader until every dependency it knows about is applied, and prints the
resulting fields. Run it again after a peer has shared new blocks to
pick up their changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := factory().Engine()
			if err != nil {
				return err
			}
			doc, err := e.Open(context.Background(), actor.ID(args[0]))
			if err != nil {
				return err
			}
			for k, v := range doc.Fields() {
				fmt.Printf("%s: %s\n", k, v)
			}
			return nil
		},
	}
}
