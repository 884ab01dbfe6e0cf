package crdt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/qri-io/hypermerge/actor"
)

const (
	alice actor.ID = "alice"
	bob   actor.ID = "zeta" // lexicographically greater than "alice"
)

func setAll(p *Proxy, kv map[string]string) {
	for k, v := range kv {
		p.Set(k, v)
	}
}

// TestSoloInitAndSet covers spec.md §8 scenario 1.
func TestSoloInitAndSet(t *testing.T) {
	doc := Init(alice)
	doc, err := Change(doc, "init grid", 1, func(p *Proxy) {
		setAll(p, map[string]string{"x0y0": "w", "x0y1": "w", "x1y0": "w", "x1y1": "w"})
	})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"x0y0": "w", "x0y1": "w", "x1y0": "w", "x1y1": "w"}
	if diff := cmp.Diff(want, doc.Fields()); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

// TestSingleDirectionSync covers spec.md §8 scenario 2.
func TestSingleDirectionSync(t *testing.T) {
	a := Init(alice)
	a, _ = Change(a, "init grid", 1, func(p *Proxy) {
		setAll(p, map[string]string{"x0y0": "w", "x0y1": "w", "x1y0": "w", "x1y1": "w"})
	})
	a2, _ := Change(a, "edit", 2, func(p *Proxy) { p.Set("x0y0", "r") })

	b := Init(bob)
	changes := GetChanges(Init(alice), a2)
	b2, err := ApplyChanges(b, changes)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"x0y0": "r", "x0y1": "w", "x1y0": "w", "x1y1": "w"}
	if diff := cmp.Diff(want, b2.Fields()); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if len(b2.Conflicts()) != 0 {
		t.Errorf("expected no conflicts, got %v", b2.Conflicts())
	}
}

// TestReverseSync covers spec.md §8 scenario 3.
func TestReverseSync(t *testing.T) {
	a := Init(alice)
	a, _ = Change(a, "init grid", 1, func(p *Proxy) {
		setAll(p, map[string]string{"x0y0": "w", "x0y1": "w", "x1y0": "w", "x1y1": "w"})
	})
	a2, _ := Change(a, "edit", 2, func(p *Proxy) { p.Set("x0y0", "r") })

	b := Init(bob)
	b2, _ := ApplyChanges(b, GetChanges(Init(alice), a2))

	b3, _ := Change(b2, "edit", 3, func(p *Proxy) { p.Set("x1y1", "b") })
	a3, err := ApplyChanges(a2, GetChanges(b2, b3))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"x0y0": "r", "x0y1": "w", "x1y0": "w", "x1y1": "b"}
	if diff := cmp.Diff(want, a3.Fields()); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if len(a3.Conflicts()) != 0 {
		t.Errorf("expected no conflicts, got %v", a3.Conflicts())
	}
}

// TestOfflineConcurrentEdit covers spec.md §8 scenario 4: two actors edit
// the same two fields offline; the lexicographically greater
// actor id wins the tiebreak on true concurrency.
func TestOfflineConcurrentEdit(t *testing.T) {
	a := Init(alice)
	a, _ = Change(a, "init grid", 1, func(p *Proxy) {
		setAll(p, map[string]string{"x0y0": "w", "x0y1": "w", "x1y0": "w", "x1y1": "w"})
	})
	a2, _ := Change(a, "edit", 2, func(p *Proxy) { p.Set("x0y0", "r") })

	b := Init(bob)
	b2, _ := ApplyChanges(b, GetChanges(Init(alice), a2))
	b3, _ := Change(b2, "edit", 3, func(p *Proxy) { p.Set("x1y1", "b") })
	a3, _ := ApplyChanges(a2, GetChanges(b2, b3))
	b4, _ := ApplyChanges(b3, GetChanges(a2, a3))

	// offline, concurrent edits on two fields
	aOff, _ := Change(a3, "offline edit", 4, func(p *Proxy) {
		setAll(p, map[string]string{"x1y0": "g", "x1y1": "r"})
	})
	bOff, _ := Change(b4, "offline edit", 4, func(p *Proxy) {
		setAll(p, map[string]string{"x1y0": "g", "x1y1": "w"})
	})

	// exchange
	aFinal, err := ApplyChanges(aOff, GetChanges(b4, bOff))
	if err != nil {
		t.Fatal(err)
	}
	bFinal, err := ApplyChanges(bOff, GetChanges(a3, aOff))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"x0y0": "r", "x0y1": "w", "x1y0": "g", "x1y1": "w"}
	wantConflicts := map[string]map[actor.ID]string{
		"x1y0": {alice: "g"},
		"x1y1": {alice: "r"},
	}

	for name, d := range map[string]*Doc{"a": aFinal, "b": bFinal} {
		if diff := cmp.Diff(want, d.Fields()); diff != "" {
			t.Errorf("%s fields mismatch (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff(wantConflicts, d.Conflicts()); diff != "" {
			t.Errorf("%s conflicts mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestIdempotence(t *testing.T) {
	a := Init(alice)
	a, _ = Change(a, "init", 1, func(p *Proxy) { p.Set("k", "v1") })
	changes := GetChanges(Init(alice), a)

	b := Init(bob)
	once, err := ApplyChanges(b, changes)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := ApplyChanges(once, changes)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(once.Fields(), twice.Fields()); diff != "" {
		t.Errorf("re-applying changes must be a no-op (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(once.Clock(), twice.Clock()); diff != "" {
		t.Errorf("clock must be unaffected by reapplication (-want +got):\n%s", diff)
	}
}

func TestCommutativity(t *testing.T) {
	a := Init(alice)
	a, _ = Change(a, "init", 1, func(p *Proxy) { p.Set("k", "v1") })
	a2, _ := Change(a, "edit", 2, func(p *Proxy) { p.Set("j", "v2") })
	changes := GetChanges(Init(alice), a2)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}

	forward, err := ApplyChanges(Init(bob), []Change{changes[0], changes[1]})
	if err != nil {
		t.Fatal(err)
	}
	backward, err := ApplyChanges(Init(bob), []Change{changes[1], changes[0]})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(forward.Fields(), backward.Fields()); diff != "" {
		t.Errorf("application order must not affect the materialized fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(forward.Clock(), backward.Clock()); diff != "" {
		t.Errorf("application order must not affect the resulting clock (-want +got):\n%s", diff)
	}
}

func TestMergeDominatesSourceTip(t *testing.T) {
	parent := Init(alice)
	parent, _ = Change(parent, "init", 1, func(p *Proxy) { p.Set("k", "v1") })

	fork := Init(bob)
	merged, err := Merge(fork, parent, 2)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(parent.Fields(), merged.Fields()); diff != "" {
		t.Errorf("fork must contain all of parent's materialized fields (-want +got):\n%s", diff)
	}
	if len(merged.GetMissingDeps()) != 0 {
		t.Errorf("merged doc should have no missing deps, got %v", merged.GetMissingDeps())
	}
	if merged.Clock()[alice] != parent.Clock()[alice] {
		t.Errorf("merged clock must dominate parent's tip for %s", alice)
	}
}

func TestGetMissingDeps(t *testing.T) {
	a := Init(alice)
	a, _ = Change(a, "init", 1, func(p *Proxy) { p.Set("k", "v1") })
	b := Init(bob)
	b, _ = ApplyChanges(b, GetChanges(Init(alice), a))
	b2, _ := Change(b, "edit", 2, func(p *Proxy) { p.Set("k", "v2") })

	// deliver only b's new change (not alice's) to a fresh peer that has
	// never heard of alice: it should report alice as a missing dependency.
	c := Init(actor.ID("gamma"))
	changes := GetChanges(b, b2)
	c, err := ApplyChanges(c, changes)
	if err != nil {
		t.Fatal(err)
	}

	missing := c.GetMissingDeps()
	if missing[alice] != 1 {
		t.Errorf("expected missing dep on %s at seq 1, got %v", alice, missing)
	}

	// once alice's change arrives, the missing dep clears.
	c, err = ApplyChanges(c, GetChanges(Init(bob), a))
	if err != nil {
		t.Fatal(err)
	}
	if len(c.GetMissingDeps()) != 0 {
		t.Errorf("expected no missing deps after delivering alice's change, got %v", c.GetMissingDeps())
	}
}
