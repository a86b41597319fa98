package watch

import (
	"testing"

	"voxelresidency.ai/internal/sim/world/terrain/store"
)

func TestViewSetClosestFirstAndClipped(t *testing.T) {
	out := ViewSet(store.ChunkKey{CX: 0, CZ: 0}, 1, 4)
	if len(out) != 4 {
		t.Fatalf("expected clipped 4 chunks, got %d", len(out))
	}
	if out[0] != (store.ChunkKey{CX: 0, CZ: 0}) {
		t.Fatalf("closest chunk should be center, got %+v", out[0])
	}
	if got := len(ViewSet(store.ChunkKey{CX: 5, CZ: 5}, 2, 0)); got != 25 {
		t.Fatalf("radius 2 square: got %d want 25", got)
	}
	if got := len(ViewSet(store.ChunkKey{}, 0, 0)); got != 1 {
		t.Fatalf("radius 0: got %d want 1", got)
	}
}

func TestDiff(t *testing.T) {
	a := store.ChunkKey{CX: 0, CZ: 0}
	b := store.ChunkKey{CX: 1, CZ: 0}
	c := store.ChunkKey{CX: 2, CZ: 0}
	entered, left := Diff([]store.ChunkKey{a, b}, []store.ChunkKey{b, c})
	if len(entered) != 1 || entered[0] != c {
		t.Fatalf("entered: got %v want [%s]", entered, c)
	}
	if len(left) != 1 || left[0] != a {
		t.Fatalf("left: got %v want [%s]", left, a)
	}
}

func TestRegistryReleasesOnlyOnLastWatcher(t *testing.T) {
	r := NewRegistry()
	shared := store.ChunkKey{CX: 1, CZ: 0}

	ch := r.Upsert("p1", store.ChunkKey{CX: 0, CZ: 0}, 1, 0)
	if len(ch.Entered) != 9 || len(ch.Released) != 0 {
		t.Fatalf("join p1: got %d entered %d released", len(ch.Entered), len(ch.Released))
	}
	r.Upsert("p2", store.ChunkKey{CX: 2, CZ: 0}, 1, 0)
	if got := r.Watchers(shared); got != 2 {
		t.Fatalf("shared refcount: got %d want 2", got)
	}

	ch = r.Remove("p1")
	for _, k := range ch.Released {
		if k == shared {
			t.Fatalf("shared chunk released while p2 still watches it")
		}
	}
	if len(ch.Released) != 6 {
		t.Fatalf("p1 exclusive chunks: got %d want 6", len(ch.Released))
	}
	if !r.Watched(shared) {
		t.Fatalf("shared chunk should still be watched")
	}

	ch = r.Remove("p2")
	if len(ch.Released) != 9 {
		t.Fatalf("p2 leave: got %d released want 9", len(ch.Released))
	}
	if r.Watched(shared) || r.Len() != 0 {
		t.Fatalf("registry should be empty")
	}
	if ch := r.Remove("p2"); len(ch.Released) != 0 {
		t.Fatalf("removing unknown watcher should be a no-op")
	}
}

func TestRegistryMoveOscillation(t *testing.T) {
	r := NewRegistry()
	r.Upsert("p", store.ChunkKey{CX: 0, CZ: 0}, 0, 0)
	ch := r.Upsert("p", store.ChunkKey{CX: 1, CZ: 0}, 0, 0)
	if len(ch.Entered) != 1 || len(ch.Released) != 1 || ch.Released[0] != (store.ChunkKey{}) {
		t.Fatalf("move: got %+v", ch)
	}
	ch = r.Upsert("p", store.ChunkKey{CX: 0, CZ: 0}, 0, 0)
	if len(ch.Entered) != 1 || ch.Entered[0] != (store.ChunkKey{}) {
		t.Fatalf("move back: got %+v", ch)
	}
	w, ok := r.Get("p")
	if !ok || len(w.View()) != 1 {
		t.Fatalf("watcher view: got %v", w)
	}
}
