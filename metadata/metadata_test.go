package metadata

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/event"
	"github.com/qri-io/hypermerge/feed"
)

func newTestRegistry(t *testing.T) *feed.Registry {
	t.Helper()
	bus := event.NewBus(context.Background())
	reg, err := feed.Open(filepath.Join(t.TempDir(), "archive.bolt"), bus)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestParseValidRecord(t *testing.T) {
	r := NewDocument(actor.ID("abc"))
	raw, err := r.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.DocID != actor.ID("abc") || got.GroupID != actor.ID("abc") {
		t.Errorf("unexpected round trip: %+v", got)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	if _, err := Parse([]byte(`{"hypermerge":1,"docId":"abc"}`)); err == nil {
		t.Error("expected error for missing groupId")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestStoreFirstWriterWins(t *testing.T) {
	s := New()
	id := actor.ID("writer1")
	first := NewDocument(actor.ID("doc1"))
	second := NewDocument(actor.ID("doc2"))

	s.Set(id, first)
	s.Set(id, second)

	got, ok := s.Load(id)
	if !ok {
		t.Fatal("expected record to be present")
	}
	if got.DocID != actor.ID("doc1") {
		t.Errorf("expected first-writer-wins to keep doc1, got %s", got.DocID)
	}
}

func TestStoreIndexesByDocAndGroup(t *testing.T) {
	s := New()
	root := actor.ID("root")
	s.Set(root, NewDocument(root))

	forkActor := actor.ID("fork1")
	s.Set(forkActor, Fork(forkActor, root, root))

	docs := s.ActorsForDoc(root)
	if len(docs) != 1 || docs[0] != root {
		t.Errorf("expected only root actor for docId root, got %v", docs)
	}

	group := s.ActorsForGroup(root)
	if len(group) != 2 {
		t.Errorf("expected root and fork actor in group index, got %v", group)
	}
}

func TestAppendMetadataWritesBlockZeroAndIndexes(t *testing.T) {
	reg := newTestRegistry(t)
	f, err := reg.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}

	s := New()
	rec := NewDocument(f.ID())
	if err := s.AppendMetadata(f, rec); err != nil {
		t.Fatal(err)
	}

	n, err := f.Length()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected log length 1 after appendMetadata, got %d", n)
	}

	got, ok := s.Load(f.ID())
	if !ok || got.DocID != f.ID() {
		t.Errorf("expected AppendMetadata to index the record, got %+v, %v", got, ok)
	}
}

func TestAppendMetadataRejectsNonEmptyLog(t *testing.T) {
	reg := newTestRegistry(t)
	f, err := reg.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Append([]byte("already here")); err != nil {
		t.Fatal(err)
	}

	s := New()
	err = s.AppendMetadata(f, NewDocument(f.ID()))
	if err != ErrNonEmpty {
		t.Errorf("expected ErrNonEmpty for a log with length >= 1, got %v", err)
	}
	if _, ok := s.Load(f.ID()); ok {
		t.Error("expected a rejected AppendMetadata not to index anything")
	}
}

func TestMarkCorruptClearedByLaterSet(t *testing.T) {
	s := New()
	id := actor.ID("bad")
	s.MarkCorrupt(id)
	if !s.IsCorrupt(id) {
		t.Error("expected IsCorrupt to report true")
	}

	s.Set(id, NewDocument(actor.ID("doc1")))
	if s.IsCorrupt(id) {
		t.Error("expected a later valid Set to clear corrupt status")
	}
}
