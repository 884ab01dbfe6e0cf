// Package tracker implements the Block Request Tracker (spec.md §4.3):
// per (DocId, ActorId) bookkeeping of which log blocks have already been
// requested from peers, so the causal loader never re-requests a block
// it is already waiting on.
//
// This is pure bookkeeping over two integers guarded by one lock: nothing
// in the example pack reaches for a third-party library to protect a
// plain counter map, and no domain dependency (bbolt, libp2p, cid) models
// "an exclusive upper bound I've already asked for." A stdlib
// sync.Mutex-guarded map is the idiomatic shape the pack itself uses for
// comparable counters (see event.bus's own lock-guarded maps).
package tracker

import "sync"

// Tracker records, per (docId, actorId), the exclusive upper bound of
// blocks already requested.
type Tracker struct {
	mu     sync.Mutex
	bounds map[key]uint64
}

type key struct {
	docID, actorID string
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{bounds: map[key]uint64{}}
}

// Max advances the recorded upper bound for (docID, actorID) to
// newUpperExclusive if it is greater than what's already recorded, and
// returns the prior bound so the caller knows which blocks (if any) still
// need requesting.
func (t *Tracker) Max(docID, actorID string, newUpperExclusive uint64) (oldUpperExclusive uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{docID, actorID}
	old := t.bounds[k]
	if newUpperExclusive > old {
		t.bounds[k] = newUpperExclusive
	}
	return old
}

// Bump advances the recorded upper bound for (docID, actorID) by delta
// and returns the new bound.
func (t *Tracker) Bump(docID, actorID string, delta uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{docID, actorID}
	t.bounds[k] += delta
	return t.bounds[k]
}

// Get returns the current recorded upper bound for (docID, actorID).
func (t *Tracker) Get(docID, actorID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bounds[key{docID, actorID}]
}

// Reset clears every recorded bound for docID, used when a document is
// deleted.
func (t *Tracker) Reset(docID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.bounds {
		if k.docID == docID {
			delete(t.bounds, k)
		}
	}
}
