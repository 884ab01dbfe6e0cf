// Package loader implements the Causal Loader (spec.md §4.4), the
// component at the center of the replication engine: it walks every log
// contributing to a document, decodes newly available blocks into CRDT
// Changes, applies whichever of them the document's causal history is
// ready for, and repeats until a fixed point — no further progress is
// possible without data this process doesn't have yet — is reached.
//
// Grounded on the teacher's own CRDT-log prototype (log/simulate_test.go:
// fetch-apply-detect-missing-repeat over a set of per-actor logs) and on
// logbook/oplog's append-only-log-plus-local-index shape for how a
// concrete log is walked block by block.
package loader

import (
	"context"
	"encoding/json"
	"fmt"

	golog "github.com/ipfs/go-log"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/crdt"
	"github.com/qri-io/hypermerge/doccache"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
	"github.com/qri-io/hypermerge/metadata"
	"github.com/qri-io/hypermerge/tracker"
)

var log = golog.Logger("loader")

// Loader drives a document's CRDT state toward whatever its currently
// available logs allow.
type Loader struct {
	meta     *metadata.Store
	registry *feed.Registry
	cache    doccache.Cache
	tracker  *tracker.Tracker
	bus      event.Bus
}

// New constructs a Loader over the given component set.
func New(meta *metadata.Store, registry *feed.Registry, cache doccache.Cache, tr *tracker.Tracker, bus event.Bus) *Loader {
	return &Loader{meta: meta, registry: registry, cache: cache, tracker: tr, bus: bus}
}

// Sync runs the causal loader's fixed-point algorithm for docID: fetch
// whatever new blocks are available from every contributing log, apply
// what the Doc's causal history permits, and repeat until no further
// progress is made in a pass. It returns the resulting Doc; callers check
// Doc.GetMissingDeps to learn whether any missing dependencies remain.
func (l *Loader) Sync(ctx context.Context, docID actor.ID) (*crdt.Doc, error) {
	doc, ok := l.cache.Get(docID)
	if !ok {
		doc = crdt.Init(docID)
	}
	wasReady := ok && len(doc.GetMissingDeps()) == 0 && len(doc.Clock()) > 0

	progressed := false
	for {
		changes, err := l.collectNewChanges(docID, doc)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			break
		}
		next, err := crdt.ApplyChanges(doc, changes)
		if err != nil {
			return nil, fmt.Errorf("applying changes for %s: %w", docID, err)
		}
		doc = next
		progressed = true
	}

	l.cache.Set(docID, doc)

	nowReady := len(doc.GetMissingDeps()) == 0 && len(doc.Clock()) > 0
	switch {
	case nowReady && !wasReady:
		l.bus.PublishID(ctx, event.ETDocumentReady, string(docID), event.DocumentPayload{DocID: string(docID)})
	case progressed && wasReady:
		l.bus.PublishID(ctx, event.ETDocumentUpdated, string(docID), event.DocumentPayload{DocID: string(docID)})
	}

	return doc, nil
}

// collectNewChanges reads every contributing actor's log beyond the
// position already folded into doc's clock, decoding block bytes into
// Changes. Actors referenced by doc's missing-dependency set but not yet
// known to the metadata store are skipped silently: they'll be picked up
// once a FEEDS_SHARED announcement or a fork registers them.
func (l *Loader) collectNewChanges(docID actor.ID, doc *crdt.Doc) ([]crdt.Change, error) {
	actors := l.meta.ActorsForDoc(docID)
	if len(actors) == 0 {
		actors = []actor.ID{docID}
	}

	var changes []crdt.Change
	clock := doc.Clock()

	for _, id := range actors {
		f, ok := l.registry.Get(id)
		if !ok {
			continue
		}
		length, err := f.Length()
		if err != nil {
			return nil, fmt.Errorf("reading length of %s: %w", id, err)
		}
		if length == 0 {
			continue
		}

		have := clock[id] // highest applied seq; block index = seq, block 0 is metadata
		requested := l.tracker.Max(string(docID), string(id), length)
		start := have + 1
		if requested > start {
			start = requested
		}

		for idx := start; idx < length; idx++ {
			raw, err := f.Get(idx)
			if err != nil {
				return nil, fmt.Errorf("reading block %d of %s: %w", idx, id, err)
			}
			var c crdt.Change
			if err := json.Unmarshal(raw, &c); err != nil {
				log.Debugw("skipping undecodable block", "actor", id, "index", idx, "err", err)
				continue
			}
			changes = append(changes, c)
		}
	}
	return changes, nil
}

// LoadOwn runs Sync for docID. actorID is not used: every log
// contributing to docID is read, not only actorID's. Engine.Change does
// not call it; it caches the changed document itself.
func (l *Loader) LoadOwn(ctx context.Context, docID, actorID actor.ID) (*crdt.Doc, error) {
	return l.Sync(ctx, docID)
}
