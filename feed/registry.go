package feed

import (
	"context"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/event"
)

// Registry is the Log Registry (spec.md §4.1): the set of logs known to
// this process, backed by one on-disk archive shared across every Feed it
// hands out.
type Registry struct {
	bus     event.Bus
	archive *bolt.DB

	mu    sync.Mutex
	feeds map[actor.ID]*Feed
}

// Open opens (creating if necessary) the bbolt archive at path and
// returns a Registry over it.
func Open(path string, bus event.Bus) (*Registry, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening archive %q: %w", path, err)
	}
	return &Registry{
		bus:     bus,
		archive: db,
		feeds:   map[actor.ID]*Feed{},
	}, nil
}

// Close releases the underlying archive.
func (r *Registry) Close() error {
	return r.archive.Close()
}

// CreateOrOpen returns the Feed for id, opening it from the archive if
// already known. If id is the zero value, a fresh ed25519 keypair is
// generated and a new writable log is created. Opening a log for an id
// this process holds no private key for still succeeds: it yields an
// empty, read-only handle to be filled in by replication, matching
// spec.md §4.1's "no error on open of a not-yet-populated log."
func (r *Registry) CreateOrOpen(id actor.ID) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id.Empty() {
		kp, err := actor.Generate()
		if err != nil {
			return nil, fmt.Errorf("generating actor key: %w", err)
		}
		f := &Feed{id: kp.ID, kp: &kp, archive: r.archive}
		r.feeds[kp.ID] = f
		r.emit(event.ETFeedReady, f)
		return f, nil
	}

	if f, ok := r.feeds[id]; ok {
		return f, nil
	}

	f := &Feed{id: id, archive: r.archive}
	r.feeds[id] = f
	r.emit(event.ETFeedReady, f)
	return f, nil
}

// Get returns the Feed for id if this process has already opened it.
func (r *Registry) Get(id actor.ID) (*Feed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	return f, ok
}

// Remove evicts id from the in-memory registry. Per spec.md §4.1 this
// does not delete blocks from the archive: a later CreateOrOpen for the
// same id re-attaches to the data already on disk.
func (r *Registry) Remove(id actor.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, id)
}

// EnumerateOnDisk lists every ActorId with a bucket already present in the
// archive, whether or not this process has opened a Feed handle for it
// yet. The Orchestrator calls this once at startup (spec.md §4.7's
// registry:ready) to seed the metadata store from every on-disk log.
func (r *Registry) EnumerateOnDisk() ([]actor.ID, error) {
	var ids []actor.ID
	err := r.archive.View(func(tx *bolt.Tx) error {
		logs := tx.Bucket(logsBucket)
		if logs == nil {
			return nil
		}
		return logs.ForEach(func(k, v []byte) error {
			ids = append(ids, actor.ID(k))
			return nil
		})
	})
	return ids, err
}

// All returns every Feed currently registered.
func (r *Registry) All() []*Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	return out
}

func (r *Registry) emit(topic event.Topic, f *Feed) {
	if r.bus == nil {
		return
	}
	r.bus.PublishID(context.Background(), topic, string(f.id), f.id)
}
