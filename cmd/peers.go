package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/qri-io/hypermerge/core"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
	"github.com/qri-io/hypermerge/swarm"
)

// NewPeersCommand creates a new `hypermerge peers` command: dial this
// process's configured bootstrap peers and report who answered.
func NewPeersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "dial configured bootstrap peers and list who connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := factory().Config()
			if err != nil {
				return err
			}

			ctx := context.Background()
			bus := event.NewBus(ctx)
			reg, err := feed.Open(filepath.Join(cfg.DataDir, "archive.bolt"), bus)
			if err != nil {
				return err
			}
			defer reg.Close()

			node, err := swarm.New(ctx, reg, bus)
			if err != nil {
				return err
			}
			defer node.Close()

			e := core.New(reg, bus, core.WithNode(node))
			if err := e.Start(ctx); err != nil {
				return err
			}

			for _, raw := range cfg.P2P.BootstrapPeers {
				addr, err := ma.NewMultiaddr(raw)
				if err != nil {
					PrintWarning("skipping bootstrap peer %q: %v", raw, err)
					continue
				}
				if _, err := node.Connect(ctx, addr); err != nil {
					PrintWarning("dialing %q: %v", raw, err)
				}
			}

			ids := e.PeerIDs()
			if len(ids) == 0 {
				PrintInfo("not connected to any peers")
				return nil
			}
			for i, id := range ids {
				PrintInfo("%d  %s", i, id)
			}
			return nil
		},
	}
}
