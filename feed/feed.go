// Package feed implements the Log Handle and Log Registry components of
// spec.md §4.1: a thin adapter over one append-only, content-addressed
// binary log per actor (block 0 reserved for metadata, blocks 1..N opaque
// Change bytes), and the registry that owns the set of live handles plus
// the on-disk archive backing them.
//
// The log transport itself (append/get/replicate/swarm-join) is listed in
// spec.md §6.1 as an external dependency this engine merely consumes. No
// example in the pack ships a hypercore-shaped log, so this package
// supplies a concrete one: one bbolt database as the on-disk archive
// (spec.md "archiver"), each log a bucket keyed by ActorId, each block
// additionally content-addressed with a sha2-256 CID the way the rest of
// the qri pack content-addresses everything it persists.
package feed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	golog "github.com/ipfs/go-log"
	mh "github.com/multiformats/go-multihash"
	bolt "go.etcd.io/bbolt"

	"github.com/qri-io/hypermerge/actor"
)

var log = golog.Logger("feed")

// ErrNotWritable is returned by Append on a log this process doesn't hold
// the private key for.
var ErrNotWritable = errors.New("feed: log is not writable")

// ErrBlockNotFound is returned by Get for an out-of-range index.
var ErrBlockNotFound = errors.New("feed: block not found")

var (
	logsBucket   = []byte("logs")
	blocksBucket = []byte("blocks")
	cidsBucket   = []byte("cids")
)

// Feed is one actor's append-only log handle.
type Feed struct {
	id      actor.ID
	kp      *actor.KeyPair // non-nil iff writable
	archive *bolt.DB

	mu    sync.RWMutex
	peers map[string]bool
}

// ID returns the ActorId this log is keyed by.
func (f *Feed) ID() actor.ID { return f.id }

// Writable reports whether this process holds the private key for f and
// may Append to it.
func (f *Feed) Writable() bool { return f.kp != nil }

// DiscoveryKey derives this log's swarm rendezvous token.
func (f *Feed) DiscoveryKey() (string, error) { return actor.DiscoveryKey(f.id) }

// Length returns the number of blocks stored, including block 0 if
// present.
func (f *Feed) Length() (uint64, error) {
	var n uint64
	err := f.archive.View(func(tx *bolt.Tx) error {
		b := f.logBucket(tx)
		if b == nil {
			return nil
		}
		blocks := b.Bucket(blocksBucket)
		if blocks == nil {
			return nil
		}
		n = uint64(blocks.Stats().KeyN)
		return nil
	})
	return n, err
}

// Get reads the block at index.
func (f *Feed) Get(index uint64) ([]byte, error) {
	var data []byte
	err := f.archive.View(func(tx *bolt.Tx) error {
		b := f.logBucket(tx)
		if b == nil {
			return ErrBlockNotFound
		}
		blocks := b.Bucket(blocksBucket)
		if blocks == nil {
			return ErrBlockNotFound
		}
		v := blocks.Get(indexKey(index))
		if v == nil {
			return ErrBlockNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// Append adds blocks to the end of the log, starting at the current
// length. It fails for a log this process does not hold the write key
// for (spec.md's TransportError, fatal for appends per §7).
func (f *Feed) Append(blocks ...[]byte) error {
	if !f.Writable() {
		return ErrNotWritable
	}
	return f.archive.Update(func(tx *bolt.Tx) error {
		b, err := f.ensureLogBucket(tx)
		if err != nil {
			return err
		}
		blocksB, err := b.CreateBucketIfNotExists(blocksBucket)
		if err != nil {
			return fmt.Errorf("opening blocks bucket: %w", err)
		}
		cidsB, err := b.CreateBucketIfNotExists(cidsBucket)
		if err != nil {
			return fmt.Errorf("opening cids bucket: %w", err)
		}
		next := uint64(blocksB.Stats().KeyN)
		for _, blk := range blocks {
			if err := blocksB.Put(indexKey(next), blk); err != nil {
				return fmt.Errorf("writing block %d: %w", next, err)
			}
			c, err := blockCID(blk)
			if err != nil {
				return err
			}
			if err := cidsB.Put(c.Bytes(), indexKey(next)); err != nil {
				return fmt.Errorf("indexing cid for block %d: %w", next, err)
			}
			next++
		}
		return nil
	})
}

// CID returns the content address of the block at index.
func (f *Feed) CID(index uint64) (cid.Cid, error) {
	data, err := f.Get(index)
	if err != nil {
		return cid.Cid{}, err
	}
	return blockCID(data)
}

// AddPeer records a peer connection against this log, returning true the
// first time this peer id is seen (spec.md's peer-add event).
func (f *Feed) AddPeer(peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peers == nil {
		f.peers = map[string]bool{}
	}
	if f.peers[peerID] {
		return false
	}
	f.peers[peerID] = true
	return true
}

// RemovePeer forgets a peer connection, returning true if it was present.
func (f *Feed) RemovePeer(peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.peers[peerID] {
		return false
	}
	delete(f.peers, peerID)
	return true
}

// Peers lists currently connected peer ids.
func (f *Feed) Peers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.peers))
	for p := range f.peers {
		out = append(out, p)
	}
	return out
}

func (f *Feed) logBucket(tx *bolt.Tx) *bolt.Bucket {
	logs := tx.Bucket(logsBucket)
	if logs == nil {
		return nil
	}
	return logs.Bucket([]byte(f.id))
}

func (f *Feed) ensureLogBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	logs, err := tx.CreateBucketIfNotExists(logsBucket)
	if err != nil {
		return nil, fmt.Errorf("opening logs bucket: %w", err)
	}
	b, err := logs.CreateBucketIfNotExists([]byte(f.id))
	if err != nil {
		return nil, fmt.Errorf("opening log bucket for %s: %w", f.id, err)
	}
	return b, nil
}

func indexKey(i uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, i)
	return buf
}

// blockCID computes a sha2-256 CIDv1 over raw block bytes, satisfying
// spec.md §3's description of the log as "content-addressed".
func blockCID(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Cid{}, fmt.Errorf("hashing block: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
