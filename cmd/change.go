package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/crdt"
)

// NewChangeCommand creates a new `hypermerge change` command.
func NewChangeCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "change DOCID KEY VALUE",
		Short: "set a field on a document and append the change to its log",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			docID, key, value := actor.ID(args[0]), args[1], args[2]

			e, err := factory().Engine()
			if err != nil {
				return err
			}
			doc, err := e.Change(context.Background(), docID, message, func(p *crdt.Proxy) {
				p.Set(key, value)
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", key, doc.Fields()[key])
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message recorded alongside the change")
	return cmd
}
