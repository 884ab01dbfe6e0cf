// Package doccache implements the CRDT Document Cache (spec.md §4, component
// 5): the mapping from DocId to the current materialized CRDT value, kept
// current as local changes are made and remote changes are applied.
//
// spec.md §3 permits two implementation variants for the underlying
// Document value — "a mutable shared value and a persistent/immutable
// value" — and requires the choice not affect observable behavior. Cache
// offers both behind one interface, selected at construction, so callers
// never branch on which is in play.
package doccache

import (
	"sync"
	"sync/atomic"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/crdt"
)

// Cache maps DocId to the current *crdt.Doc for that document. DocId is an
// actor.ID elevated to the role of "the root log of a document" (spec.md
// §3), so it is keyed the same way.
type Cache interface {
	// Get returns the cached document for id, and whether it was present.
	Get(id actor.ID) (*crdt.Doc, bool)
	// Set stores doc as the current value for id, replacing any prior
	// value.
	Set(id actor.ID, doc *crdt.Doc)
	// Delete evicts id from the cache.
	Delete(id actor.ID)
}

// NewMutable returns a Cache backed by one shared map guarded by a mutex:
// every Get observes the latest Set from any goroutine, matching a
// hypothetical mutable-shared-value CRDT representation.
func NewMutable() Cache {
	return &mutableCache{docs: map[actor.ID]*crdt.Doc{}}
}

type mutableCache struct {
	mu   sync.RWMutex
	docs map[actor.ID]*crdt.Doc
}

func (c *mutableCache) Get(id actor.ID) (*crdt.Doc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	return d, ok
}

func (c *mutableCache) Set(id actor.ID, doc *crdt.Doc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[id] = doc
}

func (c *mutableCache) Delete(id actor.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
}

// NewImmutable returns a Cache backed by an atomic swap of the whole map:
// each Set publishes a brand new, wholly-owned snapshot, and a Get never
// blocks behind a writer. This matches a persistent/immutable CRDT
// representation where every mutation produces a new value rather than
// updating one in place — crdt.Doc already behaves this way, so this Cache
// variant differs from NewMutable only in its read/write synchronization
// strategy, not in the values it hands back.
func NewImmutable() Cache {
	return &immutableCache{}
}

type immutableCache struct {
	writeMu sync.Mutex   // serializes Set/Delete so no write is lost
	docs    atomic.Value // map[actor.ID]*crdt.Doc
}

func (c *immutableCache) snapshot() map[actor.ID]*crdt.Doc {
	m, _ := c.docs.Load().(map[actor.ID]*crdt.Doc)
	return m
}

func (c *immutableCache) Get(id actor.ID) (*crdt.Doc, bool) {
	m := c.snapshot()
	d, ok := m[id]
	return d, ok
}

func (c *immutableCache) Set(id actor.ID, doc *crdt.Doc) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	old := c.snapshot()
	next := make(map[actor.ID]*crdt.Doc, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = doc
	c.docs.Store(next)
}

func (c *immutableCache) Delete(id actor.ID) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	old := c.snapshot()
	if _, ok := old[id]; !ok {
		return
	}
	next := make(map[actor.ID]*crdt.Doc, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	c.docs.Store(next)
}
