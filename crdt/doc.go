// Package crdt supplies the CRDT capability set spec.md §6.1 treats as an
// external dependency: change generation, merge, causal-dependency
// tracking, commutative/idempotent application, and missing-dependency
// detection.
//
// The pack doesn't ship a CRDT library, so this is a small concrete
// implementation behind the Doc type rather than a vendored stand-in: a
// last-writer-wins register per field, tie-broken on concurrent writes by
// actor id (spec.md §8 scenario 4), with the full change graph kept so
// GetMissingDeps and GetChanges can answer precisely. It is grounded in the
// `log` package prototype of the qri codebase this module was derived from
// (Op/Log/State/vector clocks; that package is not part of this module),
// generalized from a single dataset-commit op type to the arbitrary
// field-set ops this spec's documents need.
package crdt

import (
	"sort"

	"github.com/qri-io/hypermerge/actor"
)

// Op is one field write within a Change.
type Op struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Change is one atomic CRDT delta, opaque to everything above this package
// except for its actor and causal-dependency fields (spec.md §3 "Change").
// Change is also the on-wire shape of log blocks at index >= 1 (spec.md
// §6.3): it round-trips through JSON directly.
type Change struct {
	Actor     actor.ID             `json:"actor"`
	Seq       uint64               `json:"seq"`
	Deps      map[actor.ID]uint64  `json:"deps,omitempty"`
	Message   string               `json:"message,omitempty"`
	Timestamp int64                `json:"timestamp"`
	Ops       []Op                 `json:"ops,omitempty"`
}

func (c Change) id() changeID { return changeID{c.Actor, c.Seq} }

type changeID struct {
	actor actor.ID
	seq   uint64
}

// fieldState remembers which Change most recently won a field, so a later
// write can be checked for causal order against it (same/descendant
// actor's sequence, or a concurrent write needing a tiebreak).
type fieldState struct {
	writer Change
	value  string
}

// Doc is a materialized CRDT document value. The zero value is not useful;
// construct one with Init. Doc methods return a new Doc rather than
// mutating the receiver, so a Doc value can be shared freely for reads;
// see package doccache for the mutable-vs-immutable document-cache choice
// spec.md §3 leaves as a configuration option.
type Doc struct {
	actor   actor.ID
	clocks  map[actor.ID]uint64
	fields  map[string]fieldState
	conflicts map[string]map[actor.ID]string
	history []Change
	seen    map[changeID]bool
	pending map[actor.ID][]Change
}

// Init constructs an empty document authored, for local Change calls, as
// actorID.
func Init(actorID actor.ID) *Doc {
	return &Doc{
		actor:     actorID,
		clocks:    map[actor.ID]uint64{},
		fields:    map[string]fieldState{},
		conflicts: map[string]map[actor.ID]string{},
		seen:      map[changeID]bool{},
		pending:   map[actor.ID][]Change{},
	}
}

// InitImmutable is identical to Init. Both variants share the same
// persistent representation; the mutable/immutable distinction spec.md §3
// describes is a property of how the cache stores a Doc, not of the Doc
// value itself, so the two constructors are interchangeable here.
func InitImmutable(actorID actor.ID) *Doc { return Init(actorID) }

// Actor returns the identity new local changes are authored as.
func (d *Doc) Actor() actor.ID { return d.actor }

// Clock returns a copy of the document's vector clock: for each actor,
// the highest sequence number of theirs incorporated so far.
func (d *Doc) Clock() map[actor.ID]uint64 {
	out := make(map[actor.ID]uint64, len(d.clocks))
	for k, v := range d.clocks {
		out[k] = v
	}
	return out
}

// Fields returns a copy of the materialized field map.
func (d *Doc) Fields() map[string]string {
	out := make(map[string]string, len(d.fields))
	for k, fs := range d.fields {
		out[k] = fs.value
	}
	return out
}

// Conflicts returns the side-channel map of losing concurrent writes,
// keyed by field then by the losing actor. Replication surfaces this
// without interpreting it (spec.md §6.1).
func (d *Doc) Conflicts() map[string]map[actor.ID]string {
	out := make(map[string]map[actor.ID]string, len(d.conflicts))
	for k, m := range d.conflicts {
		inner := make(map[actor.ID]string, len(m))
		for a, v := range m {
			inner[a] = v
		}
		out[k] = inner
	}
	return out
}

// clone returns a deep-enough copy of d for producing a new Doc value
// without mutating the receiver.
func (d *Doc) clone() *Doc {
	n := &Doc{
		actor:     d.actor,
		clocks:    make(map[actor.ID]uint64, len(d.clocks)),
		fields:    make(map[string]fieldState, len(d.fields)),
		conflicts: make(map[string]map[actor.ID]string, len(d.conflicts)),
		history:   append([]Change(nil), d.history...),
		seen:      make(map[changeID]bool, len(d.seen)),
		pending:   make(map[actor.ID][]Change, len(d.pending)),
	}
	for k, v := range d.clocks {
		n.clocks[k] = v
	}
	for k, v := range d.fields {
		n.fields[k] = v
	}
	for k, m := range d.conflicts {
		inner := make(map[actor.ID]string, len(m))
		for a, v := range m {
			inner[a] = v
		}
		n.conflicts[k] = inner
	}
	for k, v := range d.seen {
		n.seen[k] = v
	}
	for k, v := range d.pending {
		n.pending[k] = append([]Change(nil), v...)
	}
	return n
}

// Proxy is the mutation surface handed to a ChangeFunc.
type Proxy struct {
	ops []Op
}

// Set records a field write to be included in the enclosing Change.
func (p *Proxy) Set(key, value string) {
	p.ops = append(p.ops, Op{Key: key, Value: value})
}

// ChangeFunc mutates a Proxy to describe one atomic edit.
type ChangeFunc func(p *Proxy)

// Change produces a new Doc by authoring one Change as d.Actor(), applying
// fn's writes, and folding the result into the returned document. now is
// the caller-supplied timestamp (never time.Now — see spec.md's ban on
// wall-clock ordering assumptions; callers pass a monotonic local counter
// or wall-clock reading of their choosing).
func Change(d *Doc, message string, now int64, fn ChangeFunc) (*Doc, error) {
	p := &Proxy{}
	fn(p)

	deps := make(map[actor.ID]uint64, len(d.clocks))
	for a, seq := range d.clocks {
		if a == d.actor {
			continue
		}
		deps[a] = seq
	}

	c := Change{
		Actor:     d.actor,
		Seq:       d.clocks[d.actor] + 1,
		Deps:      deps,
		Message:   message,
		Timestamp: now,
		Ops:       p.ops,
	}

	return applyOne(d.clone(), c)
}

// Merge folds src's change history into dst, then appends one empty
// "merge" Change authored as dst.Actor() whose dependency vector covers
// src's entire clock. That merge change is what makes dst's vector clock
// dominate src's tip (spec.md §4.5 fork, §9 design notes), without the
// CRDT layer having to special-case merges when computing missing deps.
func Merge(dst, src *Doc, now int64) (*Doc, error) {
	out := dst.clone()
	for _, c := range orderedHistory(src) {
		var err error
		out, err = applyOne(out, c)
		if err != nil {
			return nil, err
		}
	}

	deps := make(map[actor.ID]uint64, len(out.clocks))
	for a, seq := range out.clocks {
		if a == out.actor {
			continue
		}
		deps[a] = seq
	}
	mergeChange := Change{
		Actor:     out.actor,
		Seq:       out.clocks[out.actor] + 1,
		Deps:      deps,
		Message:   "merge",
		Timestamp: now,
	}
	return applyOne(out, mergeChange)
}

// GetChanges returns every change present in newDoc's history that is
// absent from oldDoc's, in the order newDoc first applied them.
func GetChanges(oldDoc, newDoc *Doc) []Change {
	var out []Change
	for _, c := range newDoc.history {
		if !oldDoc.seen[c.id()] {
			out = append(out, c)
		}
	}
	return out
}

// ApplyChanges folds changes into d and returns the resulting Doc. It is
// commutative, associative, and idempotent in the change set: applying the
// same changes twice, or in a different relative order across actors,
// yields an equal resulting Doc (spec.md §8).
func ApplyChanges(d *Doc, changes []Change) (*Doc, error) {
	out := d.clone()
	for _, c := range changes {
		var err error
		out, err = applyOne(out, c)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetMissingDeps reports, for every actor the document has a recorded but
// unsatisfied dependency on, the highest sequence number still needed
// (spec.md §4.4 step 1). The causal loader (package loader) uses this only
// to decide whether a document is ready; it does not request blocks per
// entry of this map, and reads only the logs indexed under the document's
// own DocId.
func (d *Doc) GetMissingDeps() map[actor.ID]uint64 {
	missing := map[actor.ID]uint64{}
	for a, bound := range d.highestRequiredBound() {
		if have := d.clocks[a]; have < bound {
			missing[a] = bound
		}
	}
	return missing
}

// highestRequiredBound scans both applied and pending changes for the
// highest dependency bound ever declared against each actor, including a
// pending change's implicit dependency on its own actor's prior sequence.
func (d *Doc) highestRequiredBound() map[actor.ID]uint64 {
	bounds := map[actor.ID]uint64{}
	note := func(a actor.ID, bound uint64) {
		if bound > bounds[a] {
			bounds[a] = bound
		}
	}
	for _, c := range d.history {
		for a, bound := range c.Deps {
			note(a, bound)
		}
	}
	for _, pend := range d.pending {
		for _, c := range pend {
			for a, bound := range c.Deps {
				note(a, bound)
			}
			note(c.Actor, c.Seq-1)
		}
	}
	return bounds
}

// applyOne applies a single change to d, respecting per-actor sequencing
// (a change at Seq N cannot apply until N-1 changes from that same actor
// have already landed) by buffering out-of-order arrivals in d.pending and
// draining them once contiguous.
func applyOne(d *Doc, c Change) (*Doc, error) {
	if d.seen[c.id()] {
		// idempotent: already applied, no-op.
		return d, nil
	}

	next := d.clocks[c.Actor] + 1
	if c.Seq > next {
		d.pending[c.Actor] = insertSorted(d.pending[c.Actor], c)
		return d, nil
	}
	if c.Seq < next {
		// stale duplicate of an already-superseded position; treat as seen.
		return d, nil
	}

	d = materialize(d, c)

	// drain any now-contiguous pending changes from this actor.
	for {
		pend := d.pending[c.Actor]
		if len(pend) == 0 || pend[0].Seq != d.clocks[c.Actor]+1 {
			break
		}
		next := pend[0]
		d.pending[c.Actor] = pend[1:]
		d = materialize(d, next)
	}

	return d, nil
}

func materialize(d *Doc, c Change) *Doc {
	d.seen[c.id()] = true
	d.history = append(d.history, c)
	d.clocks[c.Actor] = c.Seq

	for _, op := range c.Ops {
		prev, had := d.fields[op.Key]
		if !had {
			d.fields[op.Key] = fieldState{writer: c, value: op.Value}
			continue
		}

		switch order(c, prev.writer) {
		case orderAfter:
			// c causally follows prev: a plain overwrite, not a conflict.
			d.fields[op.Key] = fieldState{writer: c, value: op.Value}
		case orderBefore:
			// prev already causally follows c: c's write is stale.
		default:
			// truly concurrent: lexicographically greater actor id wins,
			// and the losing value is recorded in the conflict map
			// regardless of which side it came from (spec.md §8 scenario 4).
			recordConflict(d, op.Key, prev.writer.Actor, prev.value)
			recordConflict(d, op.Key, c.Actor, op.Value)
			if c.Actor > prev.writer.Actor {
				d.fields[op.Key] = fieldState{writer: c, value: op.Value}
				delete(d.conflicts[op.Key], c.Actor)
			} else {
				delete(d.conflicts[op.Key], prev.writer.Actor)
			}
			if len(d.conflicts[op.Key]) == 0 {
				delete(d.conflicts, op.Key)
			}
		}
	}
	return d
}

func recordConflict(d *Doc, key string, a actor.ID, value string) {
	if d.conflicts[key] == nil {
		d.conflicts[key] = map[actor.ID]string{}
	}
	d.conflicts[key][a] = value
}

type causalOrder int

const (
	orderConcurrent causalOrder = iota
	orderAfter
	orderBefore
)

// order reports the causal relationship of c to other: whether c's
// dependency vector covers other (orderAfter), other's dependency vector
// covers c (orderBefore), or neither (orderConcurrent).
func order(c, other Change) causalOrder {
	if c.Actor == other.Actor {
		if c.Seq >= other.Seq {
			return orderAfter
		}
		return orderBefore
	}
	if bound, ok := c.Deps[other.Actor]; ok && bound >= other.Seq {
		return orderAfter
	}
	if bound, ok := other.Deps[c.Actor]; ok && bound >= c.Seq {
		return orderBefore
	}
	return orderConcurrent
}

func insertSorted(pend []Change, c Change) []Change {
	i := sort.Search(len(pend), func(i int) bool { return pend[i].Seq >= c.Seq })
	pend = append(pend, Change{})
	copy(pend[i+1:], pend[i:])
	pend[i] = c
	return pend
}

// orderedHistory returns src's applied changes in application order,
// followed by any still-pending ones in sequence order, for Merge to fold
// into another document deterministically.
func orderedHistory(src *Doc) []Change {
	out := append([]Change(nil), src.history...)
	actors := make([]actor.ID, 0, len(src.pending))
	for a := range src.pending {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i] < actors[j] })
	for _, a := range actors {
		out = append(out, src.pending[a]...)
	}
	return out
}
