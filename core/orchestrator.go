// Package core implements the Orchestrator (spec.md §4.5): the public
// face of the replication engine. It composes the Log Registry, Metadata
// Store, CRDT Document Cache, Block Request Tracker, and Causal Loader
// into the six operations callers actually use — create, open, change,
// merge, fork, delete — and emits the lifecycle events spec.md §4.7
// names.
//
// Grounded on the request/response shape of qri's own `core` Request
// types (now removed from this tree — see DESIGN.md) for how a thin
// façade composes lower packages, and on the teacher's functional-options
// constructor convention used throughout p2p and config.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	golog "github.com/ipfs/go-log"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/crdt"
	"github.com/qri-io/hypermerge/doccache"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
	"github.com/qri-io/hypermerge/loader"
	"github.com/qri-io/hypermerge/metadata"
	"github.com/qri-io/hypermerge/swarm"
	"github.com/qri-io/hypermerge/tracker"
)

var log = golog.Logger("core")

// Error kinds per spec.md §7.
var (
	ErrNotReady         = errors.New("hypermerge: orchestrator not ready")
	ErrNotOpened        = errors.New("hypermerge: document not opened")
	ErrMetadataNonEmpty = metadata.ErrNonEmpty
	ErrCorruptMetadata  = metadata.ErrCorrupt
	ErrTransportError   = errors.New("hypermerge: transport error")
)

// NowFunc supplies the monotonic counter crdt.Change uses to order
// changes authored locally. Overridable for deterministic tests, the way
// event.NowFunc is.
var NowFunc = defaultClock

type clockState struct {
	mu sync.Mutex
	n  int64
}

var localClock clockState

func defaultClock() int64 {
	localClock.mu.Lock()
	defer localClock.mu.Unlock()
	localClock.n++
	return localClock.n
}

// Engine is the Orchestrator: one process's view of the replication
// engine, composing every lower-level component.
type Engine struct {
	bus      event.Bus
	registry *feed.Registry
	meta     *metadata.Store
	cache    doccache.Cache
	tracker  *tracker.Tracker
	loader   *loader.Loader
	node     *swarm.Node

	mu    sync.RWMutex
	ready bool
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMutableCache selects the mutable-shared-value Document Cache
// variant (doccache.NewMutable). This is the default.
func WithMutableCache() Option {
	return func(e *Engine) { e.cache = doccache.NewMutable() }
}

// WithImmutableCache selects the persistent/immutable Document Cache
// variant (doccache.NewImmutable).
func WithImmutableCache() Option {
	return func(e *Engine) { e.cache = doccache.NewImmutable() }
}

// WithNode attaches a libp2p swarm.Node so create/fork announce new logs
// to peers already connected in the same group, and registers the Engine
// as the node's swarm.FeedHandler so a peer's FEEDS_SHARED announcement
// re-enters the causal loader (spec.md §4.4 Invocation Points) instead of
// only opening a read-only log handle.
func WithNode(n *swarm.Node) Option {
	return func(e *Engine) {
		e.node = n
		n.SetFeedHandler(e)
	}
}

// New constructs an Engine over registry, not yet ready: call Start to
// enumerate on-disk logs before using any other operation.
func New(registry *feed.Registry, bus event.Bus, opts ...Option) *Engine {
	e := &Engine{
		bus:      bus,
		registry: registry,
		meta:     metadata.New(),
		cache:    doccache.NewMutable(),
		tracker:  tracker.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = loader.New(e.meta, e.registry, e.cache, e.tracker, e.bus)
	return e
}

// Start enumerates every log already on disk, loads its Metadata Record
// into the index, and marks the Engine ready (spec.md §4.7 registry:ready
// / "ready(self)"). create is the only operation callable before Start.
func (e *Engine) Start(ctx context.Context) error {
	ids, err := e.registry.EnumerateOnDisk()
	if err != nil {
		return fmt.Errorf("enumerating on-disk logs: %w", err)
	}

	for _, id := range ids {
		f, err := e.registry.CreateOrOpen(id)
		if err != nil {
			return fmt.Errorf("opening log %s: %w", id, err)
		}
		if _, _, err := e.loadMetadataIfMissing(ctx, f); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	e.bus.Publish(ctx, event.ETRegistryReady, nil)
	return nil
}

// loadMetadataIfMissing parses and indexes f's block-0 Metadata Record if
// it isn't already in e.meta. A log with no blocks yet returns ok=false
// with no error; a record that fails to parse is marked corrupt, emits
// ETCorruptMetadata (mirroring Start's handling of on-disk logs), and
// also returns ok=false rather than an error, since a corrupt log is not
// a failure of the caller's operation.
func (e *Engine) loadMetadataIfMissing(ctx context.Context, f *feed.Feed) (metadata.Record, bool, error) {
	if rec, ok := e.meta.Load(f.ID()); ok {
		return rec, true, nil
	}

	n, err := f.Length()
	if err != nil {
		return metadata.Record{}, false, fmt.Errorf("reading length of %s: %w", f.ID(), err)
	}
	if n == 0 {
		return metadata.Record{}, false, nil
	}

	raw, err := f.Get(0)
	if err != nil {
		return metadata.Record{}, false, fmt.Errorf("reading metadata block of %s: %w", f.ID(), err)
	}
	rec, err := metadata.Parse(raw)
	if err != nil {
		e.meta.MarkCorrupt(f.ID())
		e.bus.PublishID(ctx, event.ETCorruptMetadata, string(f.ID()), f.ID())
		log.Debugw("corrupt metadata", "actor", f.ID(), "err", err)
		return metadata.Record{}, false, nil
	}
	e.meta.Set(f.ID(), rec)
	return rec, true, nil
}

// HandleAnnouncedFeed implements swarm.FeedHandler: invoked once for
// every actor id a peer announces via FEEDS_SHARED (spec.md §4.6) that
// this process has just opened for the first time. It loads the new
// log's Metadata Record and re-enters the causal loader for the document
// it belongs to, so a dependency that was missing resolves on its own
// rather than waiting for a caller to call Open again (spec.md §4.4
// Invocation Points, §8 scenario 6).
func (e *Engine) HandleAnnouncedFeed(ctx context.Context, id actor.ID) error {
	f, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: announced feed %s not open", ErrTransportError, id)
	}
	rec, ok, err := e.loadMetadataIfMissing(ctx, f)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = e.loader.Sync(ctx, rec.DocID)
	return err
}

func (e *Engine) checkReady() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return ErrNotReady
	}
	return nil
}

// Create allocates a new writable log, writes its Metadata Record (with
// docId and groupId both set to the freshly generated actor id), and
// returns the empty CRDT document cached under that id.
func (e *Engine) Create(ctx context.Context) (actor.ID, *crdt.Doc, error) {
	f, err := e.registry.CreateOrOpen(actor.ID(""))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	docID := f.ID()

	rec := metadata.NewDocument(docID)
	if err := e.meta.AppendMetadata(f, rec); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	doc := crdt.Init(docID)
	e.cache.Set(docID, doc)

	e.announce(ctx, docID)
	return docID, doc, nil
}

// Open ensures a log handle exists for docID (possibly empty, to be
// filled in by replication) and returns its current synced document.
func (e *Engine) Open(ctx context.Context, docID actor.ID) (*crdt.Doc, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if _, err := e.registry.CreateOrOpen(docID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	doc, err := e.loader.Sync(ctx, docID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Find returns the cached document for docID without syncing, failing
// with ErrNotOpened if nothing has been cached for it yet.
func (e *Engine) Find(docID actor.ID) (*crdt.Doc, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	doc, ok := e.cache.Get(docID)
	if !ok {
		return nil, ErrNotOpened
	}
	return doc, nil
}

// Change applies fn to docID's current document, appends the resulting
// change to this process's own log for it, and caches the updated
// document.
func (e *Engine) Change(ctx context.Context, docID actor.ID, message string, fn crdt.ChangeFunc) (*crdt.Doc, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	doc, ok := e.cache.Get(docID)
	if !ok {
		return nil, ErrNotOpened
	}

	next, err := crdt.Change(doc, message, NowFunc(), fn)
	if err != nil {
		return nil, err
	}

	if err := e.appendOwnChanges(docID, next.Actor(), doc, next); err != nil {
		return nil, err
	}

	e.cache.Set(docID, next)
	e.bus.PublishID(ctx, event.ETDocumentUpdated, string(docID), event.DocumentPayload{DocID: string(docID)})
	return next, nil
}

// Merge CRDT-merges sourceID's document into destID's, authoring the
// resulting new changes as destID's own actor id and appending them to
// its log.
func (e *Engine) Merge(ctx context.Context, destID, sourceID actor.ID) (*crdt.Doc, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	dest, ok := e.cache.Get(destID)
	if !ok {
		return nil, ErrNotOpened
	}
	src, ok := e.cache.Get(sourceID)
	if !ok {
		return nil, ErrNotOpened
	}

	merged, err := crdt.Merge(dest, src, NowFunc())
	if err != nil {
		return nil, err
	}

	if err := e.appendOwnChanges(destID, merged.Actor(), dest, merged); err != nil {
		return nil, err
	}

	e.cache.Set(destID, merged)
	e.bus.PublishID(ctx, event.ETDocumentUpdated, string(destID), event.DocumentPayload{DocID: string(destID)})
	return merged, nil
}

// Fork allocates a new writable log with a freshly generated keypair,
// metadata pointing back at parentID and sharing its GroupId, then seeds
// the fork with a merge change so its vector clock dominates the
// parent's tip (spec.md §4.5).
func (e *Engine) Fork(ctx context.Context, parentID actor.ID) (actor.ID, *crdt.Doc, error) {
	if err := e.checkReady(); err != nil {
		return "", nil, err
	}
	parent, ok := e.cache.Get(parentID)
	if !ok {
		return "", nil, ErrNotOpened
	}
	parentRec, ok := e.meta.Load(parentID)
	if !ok {
		return "", nil, ErrNotOpened
	}

	f, err := e.registry.CreateOrOpen(actor.ID(""))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	forkID := f.ID()

	rec := metadata.Fork(forkID, parentID, parentRec.GroupID)
	if err := e.meta.AppendMetadata(f, rec); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	fork := crdt.Init(forkID)
	merged, err := crdt.Merge(fork, parent, NowFunc())
	if err != nil {
		return "", nil, err
	}
	if err := e.appendOwnChanges(forkID, merged.Actor(), fork, merged); err != nil {
		return "", nil, err
	}
	e.cache.Set(forkID, merged)

	e.announce(ctx, forkID)
	return forkID, merged, nil
}

// Documents lists every actor id this process has a Metadata Record for,
// i.e. every log known to be a document root rather than a plain feed.
func (e *Engine) Documents() []actor.ID {
	var ids []actor.ID
	for _, f := range e.registry.All() {
		if rec, ok := e.meta.Load(f.ID()); ok && rec.DocID == f.ID() {
			ids = append(ids, f.ID())
		}
	}
	return ids
}

// PeerIDs lists the libp2p peer ids this process is currently connected
// to, empty if no swarm.Node was attached via WithNode.
func (e *Engine) PeerIDs() []string {
	if e.node == nil {
		return nil
	}
	var ids []string
	for _, p := range e.node.Host().Network().Peers() {
		ids = append(ids, p.String())
	}
	return ids
}

// Delete archive-removes docID, evicting it from the registry and the
// document cache without touching the blocks already on disk.
func (e *Engine) Delete(docID actor.ID) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	e.registry.Remove(docID)
	e.cache.Delete(docID)
	e.tracker.Reset(string(docID))
	return nil
}

// appendOwnChanges computes the changes new in next relative to prior
// that are authored by ownerID, and appends them to ownerID's log,
// bumping the tracker so a later Sync for docID doesn't re-fetch blocks
// this process just wrote itself (spec.md §4.5 change/merge).
func (e *Engine) appendOwnChanges(docID, ownerID actor.ID, prior, next *crdt.Doc) error {
	f, ok := e.registry.Get(ownerID)
	if !ok {
		return ErrNotOpened
	}

	newChanges := crdt.GetChanges(prior, next)
	var mine []crdt.Change
	for _, c := range newChanges {
		if c.Actor == ownerID {
			mine = append(mine, c)
		}
	}
	if len(mine) == 0 {
		return nil
	}

	blocks := make([][]byte, 0, len(mine))
	for _, c := range mine {
		raw, err := marshalChange(c)
		if err != nil {
			return err
		}
		blocks = append(blocks, raw)
	}
	if err := f.Append(blocks...); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	e.tracker.Bump(string(docID), string(ownerID), uint64(len(mine)))
	return nil
}

func marshalChange(c crdt.Change) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling change: %w", err)
	}
	return raw, nil
}

// announce tells every connected peer about docID's group: every actor id
// indexed under docID's GroupId (spec.md §4.6), never the whole registry,
// so peers only learn about actor ids that belong to the document (or one
// of its forks) they're being told about.
func (e *Engine) announce(ctx context.Context, docID actor.ID) {
	if e.node == nil {
		return
	}
	rec, ok := e.meta.Load(docID)
	if !ok {
		return
	}
	actors := e.meta.ActorsForGroup(rec.GroupID)
	keys := make([]string, len(actors))
	for i, a := range actors {
		keys[i] = string(a)
	}
	for _, p := range e.node.Host().Network().Peers() {
		if err := e.node.AnnounceFeeds(ctx, p, keys); err != nil {
			log.Debugw("announcing new feed", "peer", p, "err", err)
		}
	}
}
