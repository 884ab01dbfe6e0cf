package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/qri-io/hypermerge/core"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
	"github.com/qri-io/hypermerge/swarm"
)

// NewConnectCommand creates a new `hypermerge connect` command.
func NewConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "start a libp2p node and stay connected to peers",
		Long: `connect brings up a libp2p host listening on the addresses in
this process's config, dials any configured bootstrap peers, and stays
running until interrupted. While connected, create and fork announce
new logs to every already-connected peer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := factory().Config()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			bus := event.NewBus(ctx)
			archivePath := filepath.Join(cfg.DataDir, "archive.bolt")
			reg, err := feed.Open(archivePath, bus)
			if err != nil {
				return err
			}
			defer reg.Close()

			var opts []swarm.Option
			for _, raw := range cfg.P2P.ListenAddrs {
				addr, err := ma.NewMultiaddr(raw)
				if err != nil {
					return fmt.Errorf("parsing listen addr %q: %w", raw, err)
				}
				opts = append(opts, swarm.WithListenAddrs(addr))
			}
			node, err := swarm.New(ctx, reg, bus, opts...)
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

			PrintSuccess("listening as %s", node.ID())
			for _, a := range node.Host().Addrs() {
				PrintInfo("  %s/p2p/%s", a, node.ID())
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			<-sig
			PrintInfo("shutting down")
			return nil
		},
	}
}
