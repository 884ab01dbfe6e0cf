// Package metadata implements the Metadata Store (spec.md §4.2): the
// in-memory index built from block 0 of every log, and the validation
// rules around the Metadata Record each log must carry before it can
// participate in a document.
//
// spec.md §6.1 treats the log transport as external; this package only
// concerns itself with the JSON record stored at block 0 and the indexes
// built over it. Grounded on the oplog shape in logbook/oplog/log_test.go
// (one append-only log per actor, a small typed header record ahead of
// the operation stream) and validated with qri-io/jsonschema the way the
// rest of the qri pack validates its own structured records.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	golog "github.com/ipfs/go-log"
	"github.com/qri-io/jsonschema"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/feed"
)

var log = golog.Logger("metadata")

// ErrNonEmpty is returned by AppendMetadata when the target log already
// has any block, block 0 included: the metadata record may only be
// the very first thing ever written to a log (spec.md §4.2).
var ErrNonEmpty = errors.New("metadata: log is not empty")

// ErrCorrupt marks a metadata record that failed to parse or failed
// schema validation. The owning log is excluded from every index
// (spec.md's CorruptMetadata handling) but is not otherwise an error:
// callers keep the log around in case a future write supersedes it.
var ErrCorrupt = errors.New("metadata: corrupt record")

// schema is the structural contract for a Metadata Record: a format tag,
// the document this log's content belongs to, the stable group handle
// across forks of that document, and an optional parent for forked docs.
var schema = jsonschema.Must(`{
	"$schema": "http://json-schema.org/draft-06/schema#",
	"title": "metadataRecord",
	"type": "object",
	"required": ["hypermerge", "docId", "groupId"],
	"properties": {
		"hypermerge": {"type": "integer", "const": 1},
		"docId": {"type": "string", "minLength": 1},
		"groupId": {"type": "string", "minLength": 1},
		"parentId": {"type": "string"}
	}
}`)

// Record is the JSON shape of block 0 of a log (spec.md §4.2).
type Record struct {
	Hypermerge int       `json:"hypermerge"`
	DocID      actor.ID  `json:"docId"`
	GroupID    actor.ID  `json:"groupId"`
	ParentID   *actor.ID `json:"parentId,omitempty"`
}

// Parse decodes and validates raw block-0 bytes into a Record. A parse or
// schema failure returns ErrCorrupt wrapping the underlying cause.
func Parse(raw []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if errs, err := schema.ValidateBytes(context.Background(), raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	} else if len(errs) > 0 {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, errs[0])
	}
	return r, nil
}

// Bytes serializes r back to its on-log JSON form.
func (r Record) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// Store is the in-memory index over every known log's Metadata Record:
// actor -> record, plus the reverse indexes spec.md's causal loader and
// orchestrator need (every actor behind a DocId, every actor behind a
// GroupId).
type Store struct {
	mu      sync.RWMutex
	byActor map[actor.ID]Record
	byDoc   map[actor.ID][]actor.ID
	byGroup map[actor.ID][]actor.ID
	corrupt map[actor.ID]bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byActor: map[actor.ID]Record{},
		byDoc:   map[actor.ID][]actor.ID{},
		byGroup: map[actor.ID][]actor.ID{},
		corrupt: map[actor.ID]bool{},
	}
}

// Set records id's Metadata Record, first-writer-wins: a second Set for
// an id already indexed is a no-op, matching spec.md's "the first valid
// metadata record for a log is authoritative" rule.
func (s *Store) Set(id actor.ID, r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byActor[id]; ok {
		return
	}
	s.byActor[id] = r
	s.byDoc[r.DocID] = append(s.byDoc[r.DocID], id)
	s.byGroup[r.GroupID] = append(s.byGroup[r.GroupID], id)
	delete(s.corrupt, id)
}

// MarkCorrupt flags id as carrying corrupt metadata until a later Set
// clears the flag (spec.md's CorruptMetadata handling). It stores no
// reason, and it does not remove a record already indexed for id.
func (s *Store) MarkCorrupt(id actor.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[id] = true
}

// IsCorrupt reports whether id's metadata has been flagged.
func (s *Store) IsCorrupt(id actor.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt[id]
}

// Load returns the indexed record for id, if any.
func (s *Store) Load(id actor.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byActor[id]
	return r, ok
}

// AppendMetadata writes r as block 0 of f and indexes it, the only log
// position a Metadata Record may ever occupy (spec.md §4.2's
// appendMetadata operation). It fails with ErrNonEmpty if f already has
// any blocks, enforcing "metadata may only be the very first thing ever
// written to a log" even if the log was handed to us already non-empty.
func (s *Store) AppendMetadata(f *feed.Feed, r Record) error {
	n, err := f.Length()
	if err != nil {
		return fmt.Errorf("reading log length: %w", err)
	}
	if n != 0 {
		return ErrNonEmpty
	}

	raw, err := r.Bytes()
	if err != nil {
		return err
	}
	if err := f.Append(raw); err != nil {
		return err
	}
	s.Set(f.ID(), r)
	return nil
}

// ActorsForDoc lists every actor id contributing to docID.
func (s *Store) ActorsForDoc(docID actor.ID) []actor.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]actor.ID, len(s.byDoc[docID]))
	copy(out, s.byDoc[docID])
	return out
}

// ActorsForGroup lists every actor id contributing to any document in
// groupID (i.e. the root plus every fork).
func (s *Store) ActorsForGroup(groupID actor.ID) []actor.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]actor.ID, len(s.byGroup[groupID]))
	copy(out, s.byGroup[groupID])
	return out
}

// NewDocument builds the Metadata Record for a brand-new, unforked
// document: its own actor id doubles as both DocId and GroupId.
func NewDocument(id actor.ID) Record {
	return Record{Hypermerge: 1, DocID: id, GroupID: id}
}

// Fork builds the Metadata Record for a new log forked from parent,
// retaining parent's GroupId and recording the fork point.
func Fork(newActor, parentDoc, groupID actor.ID) Record {
	p := parentDoc
	return Record{Hypermerge: 1, DocID: newActor, GroupID: groupID, ParentID: &p}
}
