package tracker

import "testing"

func TestMaxAdvancesOnlyForward(t *testing.T) {
	tr := New()

	if old := tr.Max("doc1", "alice", 5); old != 0 {
		t.Errorf("expected initial bound 0, got %d", old)
	}
	if got := tr.Get("doc1", "alice"); got != 5 {
		t.Errorf("expected bound 5, got %d", got)
	}

	if old := tr.Max("doc1", "alice", 3); old != 5 {
		t.Errorf("expected Max to report prior bound 5, got %d", old)
	}
	if got := tr.Get("doc1", "alice"); got != 5 {
		t.Errorf("expected lower bound to not regress tracker, got %d", got)
	}

	if old := tr.Max("doc1", "alice", 9); old != 5 {
		t.Errorf("expected prior bound 5, got %d", old)
	}
	if got := tr.Get("doc1", "alice"); got != 9 {
		t.Errorf("expected bound to advance to 9, got %d", got)
	}
}

func TestBump(t *testing.T) {
	tr := New()
	if got := tr.Bump("doc1", "alice", 2); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := tr.Bump("doc1", "alice", 3); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestResetScopedToDoc(t *testing.T) {
	tr := New()
	tr.Max("doc1", "alice", 5)
	tr.Max("doc2", "bob", 7)

	tr.Reset("doc1")

	if got := tr.Get("doc1", "alice"); got != 0 {
		t.Errorf("expected doc1 bound cleared, got %d", got)
	}
	if got := tr.Get("doc2", "bob"); got != 7 {
		t.Errorf("expected doc2 bound untouched, got %d", got)
	}
}

func TestIndependentActorsPerDoc(t *testing.T) {
	tr := New()
	tr.Max("doc1", "alice", 4)
	tr.Max("doc1", "bob", 9)

	if got := tr.Get("doc1", "alice"); got != 4 {
		t.Errorf("expected alice bound 4, got %d", got)
	}
	if got := tr.Get("doc1", "bob"); got != 9 {
		t.Errorf("expected bob bound 9, got %d", got)
	}
}
