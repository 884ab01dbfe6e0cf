package cmd

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates a new `hypermerge status` command. Status is
// not part of the core replication protocol; it's a convenience over
// Engine.Documents for inspecting what a process already knows about.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "list documents known to this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := factory().Engine()
			if err != nil {
				return err
			}
			docs := e.Documents()
			if len(docs) == 0 {
				PrintInfo("no documents yet, try `hypermerge create`")
				return nil
			}
			for i, id := range docs {
				fieldCount := 0
				if doc, err := e.Find(id); err == nil {
					fieldCount = len(doc.Fields())
				}
				PrintDocRef(i, id, fieldCount)
			}
			return nil
		},
	}
}
