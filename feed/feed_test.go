package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/event"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	bus := event.NewBus(context.Background())
	reg, err := Open(filepath.Join(dir, "archive.bolt"), bus)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestCreateGeneratesWritableLog(t *testing.T) {
	reg := newTestRegistry(t)

	f, err := reg.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}
	if !f.Writable() {
		t.Error("expected freshly generated log to be writable")
	}
	if f.ID().Empty() {
		t.Error("expected a generated actor id")
	}
}

func TestOpenUnknownIDIsEmptyAndReadOnly(t *testing.T) {
	reg := newTestRegistry(t)

	kp, err := actor.Generate()
	if err != nil {
		t.Fatal(err)
	}

	f, err := reg.CreateOrOpen(kp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if f.Writable() {
		t.Error("expected log opened by id only to be read-only")
	}
	n, err := f.Length()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected empty log, got length %d", n)
	}
}

func TestAppendAndGet(t *testing.T) {
	reg := newTestRegistry(t)
	f, err := reg.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Append([]byte("metadata"), []byte("change one"), []byte("change two")); err != nil {
		t.Fatal(err)
	}

	n, err := f.Length()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected length 3, got %d", n)
	}

	got, err := f.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "change one" {
		t.Errorf("expected %q, got %q", "change one", got)
	}

	if _, err := f.Get(99); err != ErrBlockNotFound {
		t.Errorf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestAppendRejectsNonWritable(t *testing.T) {
	reg := newTestRegistry(t)
	kp, err := actor.Generate()
	if err != nil {
		t.Fatal(err)
	}
	f, err := reg.CreateOrOpen(kp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Append([]byte("x")); err != ErrNotWritable {
		t.Errorf("expected ErrNotWritable, got %v", err)
	}
}

func TestCIDStableForIdenticalContent(t *testing.T) {
	reg := newTestRegistry(t)
	f, err := reg.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Append([]byte("meta"), []byte("same"), []byte("same")); err != nil {
		t.Fatal(err)
	}
	c1, err := f.CID(1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := f.CID(2)
	if err != nil {
		t.Fatal(err)
	}
	if !c1.Equals(c2) {
		t.Errorf("expected identical blocks to share a CID, got %s vs %s", c1, c2)
	}
}

func TestPeerTracking(t *testing.T) {
	reg := newTestRegistry(t)
	f, err := reg.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}

	if !f.AddPeer("peer1") {
		t.Error("expected first AddPeer to report newly added")
	}
	if f.AddPeer("peer1") {
		t.Error("expected duplicate AddPeer to report false")
	}
	if len(f.Peers()) != 1 {
		t.Errorf("expected 1 peer, got %v", f.Peers())
	}
	if !f.RemovePeer("peer1") {
		t.Error("expected RemovePeer to report removal")
	}
	if len(f.Peers()) != 0 {
		t.Errorf("expected no peers after removal, got %v", f.Peers())
	}
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.bolt")
	bus := event.NewBus(context.Background())

	reg1, err := Open(path, bus)
	if err != nil {
		t.Fatal(err)
	}
	f, err := reg1.CreateOrOpen(actor.ID(""))
	if err != nil {
		t.Fatal(err)
	}
	id := f.ID()
	if err := f.Append([]byte("meta"), []byte("block one")); err != nil {
		t.Fatal(err)
	}
	if err := reg1.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	reg2, err := Open(path, bus)
	if err != nil {
		t.Fatal(err)
	}
	defer reg2.Close()

	f2, err := reg2.CreateOrOpen(id)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f2.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "block one" {
		t.Errorf("expected persisted block, got %q", got)
	}
}
