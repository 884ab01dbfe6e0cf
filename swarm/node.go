// Package swarm implements the Peer Extension Protocol (spec.md §4.6): a
// libp2p host, on top of which one named extension channel,
// "hypermerge", carries exactly one message type, FEEDS_SHARED, telling a
// peer which logs we have locally. Bulk block exchange itself
// (spec.md §6.1's Log transport capability set) is out of scope here —
// that's the feed package's concern — this package only ever announces
// and listens for "here are the logs I'm willing to talk about."
//
// Grounded on qri's functional-options node constructor (p2p/p2p_test.go,
// p2p/node_test.go: NewQriNode(repo, func(o *NodeCfg){...})) and its
// request/response Message{Phase, Type} shape (p2p/message_test.go),
// adapted here onto the modern go-libp2p-core host/network/protocol API.
package swarm

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	pstore "github.com/libp2p/go-libp2p-peerstore"
	golog "github.com/ipfs/go-log"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
)

var log = golog.Logger("swarm")

// ProtocolID is the libp2p stream protocol carrying the hypermerge
// extension channel.
const ProtocolID = "/hypermerge/1.0.0"

// Config configures a Node. Populated via functional options, the way
// qri's NodeCfg is built up.
type Config struct {
	PrivKey crypto.PrivKey
	Addrs   []ma.Multiaddr
	handler FeedHandler
}

// Option configures a Config.
type Option func(*Config)

// WithPrivKey sets the host's identity key.
func WithPrivKey(k crypto.PrivKey) Option {
	return func(c *Config) { c.PrivKey = k }
}

// WithListenAddrs sets the host's listen addresses.
func WithListenAddrs(addrs ...ma.Multiaddr) Option {
	return func(c *Config) { c.Addrs = addrs }
}

// FeedHandler is notified once for every actor id a peer announces via
// FEEDS_SHARED that this node has just opened for the first time
// (spec.md §4.4 Invocation Points: "when a peer announces new feed keys").
// Defined here rather than implemented directly so this package never
// needs to import the orchestrator that owns the causal loader — callers
// supply their own implementation via WithFeedHandler or SetFeedHandler.
type FeedHandler interface {
	HandleAnnouncedFeed(ctx context.Context, id actor.ID) error
}

// WithFeedHandler registers h to be called for every newly-announced feed
// key this node opens for the first time. Most callers construct the
// swarm.Node before the component that implements FeedHandler exists
// (it typically needs the Node itself); use SetFeedHandler once that
// component is ready instead.
func WithFeedHandler(h FeedHandler) Option {
	return func(c *Config) { c.handler = h }
}

// Node is a libp2p host wired into the registry of local logs and the
// event bus, speaking the hypermerge extension protocol to its peers.
type Node struct {
	host     host.Host
	registry *feed.Registry
	bus      event.Bus
	handler  FeedHandler
}

// New constructs a libp2p host and registers the hypermerge stream
// handler on it.
func New(ctx context.Context, registry *feed.Registry, bus event.Bus, opts ...Option) (*Node, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var libp2pOpts []libp2p.Option
	if cfg.PrivKey != nil {
		libp2pOpts = append(libp2pOpts, libp2p.Identity(cfg.PrivKey))
	}
	if len(cfg.Addrs) > 0 {
		libp2pOpts = append(libp2pOpts, libp2p.ListenAddrs(cfg.Addrs...))
	}

	h, err := libp2p.New(ctx, libp2pOpts...)
	if err != nil {
		return nil, fmt.Errorf("constructing libp2p host: %w", err)
	}

	n := &Node{host: h, registry: registry, bus: bus, handler: cfg.handler}
	h.SetStreamHandler(ProtocolID, n.handleStream)
	return n, nil
}

// SetFeedHandler registers h to be called for every newly-announced feed
// key this node opens for the first time, overriding whatever
// WithFeedHandler supplied at construction. Safe to call once the
// component implementing FeedHandler (typically the orchestrator, which
// needs this Node to exist first) is ready.
func (n *Node) SetFeedHandler(h FeedHandler) { n.handler = h }

// Host exposes the underlying libp2p host for transports that need it
// directly (discovery, connection management).
func (n *Node) Host() host.Host { return n.host }

// ID returns this node's libp2p peer id.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Close shuts down the host.
func (n *Node) Close() error { return n.host.Close() }

// Connect dials addr and returns its peer id.
func (n *Node) Connect(ctx context.Context, addr ma.Multiaddr) (peer.ID, error) {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("parsing peer address: %w", err)
	}
	n.host.Peerstore().AddAddrs(info.ID, info.Addrs, pstore.PermanentAddrTTL)
	if err := n.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("connecting to %s: %w", info.ID, err)
	}
	return info.ID, nil
}

// AnnounceFeeds opens a stream to peerID and sends a FEEDS_SHARED message
// listing keys. Callers scope keys themselves (spec.md §4.6: the actor
// ids under one document's GroupId, not the whole registry) — this
// package has no notion of documents or groups, only logs and streams.
func (n *Node) AnnounceFeeds(ctx context.Context, peerID peer.ID, keys []string) error {
	s, err := n.host.NewStream(ctx, peerID, ProtocolID)
	if err != nil {
		return fmt.Errorf("opening hypermerge stream to %s: %w", peerID, err)
	}
	defer s.Close()

	msg := Message{Type: MtFeedsShared, Keys: keys}
	return writeMessage(s, msg)
}

func (n *Node) handleStream(s network.Stream) {
	defer s.Close()
	peerID := s.Conn().RemotePeer()

	msg, err := readMessage(s)
	if err != nil {
		log.Debugw("reading hypermerge message", "peer", peerID, "err", err)
		return
	}

	switch msg.Type {
	case MtFeedsShared:
		n.handleFeedsShared(peerID, msg)
	default:
		n.bus.PublishID(context.Background(), event.ETPeerMessage, "", event.PeerMessagePayload{
			PeerID:  peerID.String(),
			Message: msg,
		})
	}
}

func (n *Node) handleFeedsShared(peerID peer.ID, msg Message) {
	ctx := context.Background()
	for _, key := range msg.Keys {
		id := actor.ID(key)
		_, existed := n.registry.Get(id)
		f, err := n.registry.CreateOrOpen(id)
		if err != nil {
			log.Debugw("opening shared feed", "actor", id, "err", err)
			continue
		}
		if f.AddPeer(peerID.String()) {
			n.bus.PublishID(ctx, event.ETPeerJoined, string(id), event.PeerPayload{
				ActorID: string(id),
				PeerID:  peerID.String(),
			})
		}
		if !existed && n.handler != nil {
			if err := n.handler.HandleAnnouncedFeed(ctx, id); err != nil {
				log.Debugw("handling announced feed", "actor", id, "err", err)
			}
		}
	}
}
