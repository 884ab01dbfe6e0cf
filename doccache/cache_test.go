package doccache

import (
	"testing"

	"github.com/qri-io/hypermerge/actor"
	"github.com/qri-io/hypermerge/crdt"
)

func TestCaches(t *testing.T) {
	for name, newCache := range map[string]func() Cache{
		"mutable":   NewMutable,
		"immutable": NewImmutable,
	} {
		t.Run(name, func(t *testing.T) {
			c := newCache()
			id := actor.ID("doc1")

			if _, ok := c.Get(id); ok {
				t.Fatal("expected miss on empty cache")
			}

			doc := crdt.Init(id)
			c.Set(id, doc)

			got, ok := c.Get(id)
			if !ok {
				t.Fatal("expected hit after Set")
			}
			if got != doc {
				t.Error("expected Get to return the exact value passed to Set")
			}

			doc2 := crdt.Init(id)
			c.Set(id, doc2)
			got, _ = c.Get(id)
			if got != doc2 {
				t.Error("expected Set to replace the prior value")
			}

			c.Delete(id)
			if _, ok := c.Get(id); ok {
				t.Error("expected miss after Delete")
			}
		})
	}
}
