package store

import (
	"errors"
	"testing"
)

type countingLoader struct{ calls int }

func (l *countingLoader) LoadChunk(cx, cz int) []uint16 {
	l.calls++
	blocks := make([]uint16, 16*16)
	blocks[0] = uint16(cx + 100)
	return blocks
}

type recordingFlusher struct {
	flushed []ChunkKey
	err     error
}

func (f *recordingFlusher) FlushChunk(ch *Chunk) error {
	f.flushed = append(f.flushed, ch.Key())
	return f.err
}

func TestLoadIsIdempotent(t *testing.T) {
	l := &countingLoader{}
	s := NewChunkStore(l)
	k := ChunkKey{CX: 2, CZ: -3}

	a := s.Load(k)
	b := s.Load(k)
	if a != b {
		t.Fatalf("expected the same chunk pointer for repeated loads")
	}
	if l.calls != 1 {
		t.Fatalf("loader calls: got %d want 1", l.calls)
	}
	if a.Residency().State() != StateLoaded {
		t.Fatalf("state: got %s want LOADED", a.Residency())
	}
	if a.Get(0, 0) != 102 {
		t.Fatalf("loader data not used: got %d", a.Get(0, 0))
	}
}

func TestLoadRunsAccessHookOnEveryReturn(t *testing.T) {
	s := NewChunkStore(nil)
	var seen []ChunkKey
	s.OnAccess(func(k ChunkKey) { seen = append(seen, k) })

	k := ChunkKey{CX: 0, CZ: 1}
	s.Load(k)
	s.Load(k)
	_ = s.GetBlock(3, 20)
	if len(seen) != 3 {
		t.Fatalf("access hook calls: got %d want 3", len(seen))
	}
	if seen[2] != k {
		t.Fatalf("GetBlock(3,20) should access chunk %s, got %s", k, seen[2])
	}
	if _, ok := s.Peek(ChunkKey{CX: 9, CZ: 9}); ok {
		t.Fatalf("peek must not load")
	}
	if len(seen) != 3 {
		t.Fatalf("peek must not run the access hook")
	}
}

func TestPendingTransitions(t *testing.T) {
	s := NewChunkStore(nil)
	k := ChunkKey{CX: 1, CZ: 1}
	if s.MarkPending(k, 5) {
		t.Fatalf("absent chunk cannot become pending")
	}
	s.Load(k)
	if !s.MarkPending(k, 5) {
		t.Fatalf("loaded chunk should become pending")
	}
	if s.MarkPending(k, 9) {
		t.Fatalf("already pending chunk must not be re-marked")
	}
	since, ok := s.Residency(k).Since()
	if !ok || since != 5 {
		t.Fatalf("since: got (%d,%v) want (5,true)", since, ok)
	}
	if !s.ClearPending(k) {
		t.Fatalf("pending chunk should clear")
	}
	if _, ok := s.Residency(k).Since(); ok {
		t.Fatalf("loaded chunk must not expose a pending timestamp")
	}
	if s.ClearPending(k) {
		t.Fatalf("clearing a loaded chunk is a no-op")
	}
}

func TestUnloadNowAbsentIsNoop(t *testing.T) {
	f := &recordingFlusher{}
	s := NewChunkStore(nil)
	s.SetFlusher(f)
	s.Load(ChunkKey{CX: 0, CZ: 0})

	removed, err := s.UnloadNow(ChunkKey{CX: 5, CZ: 5})
	if removed || err != nil {
		t.Fatalf("unload absent: got (%v,%v) want (false,nil)", removed, err)
	}
	if s.Len() != 1 || len(f.flushed) != 0 {
		t.Fatalf("store changed by absent unload: len=%d flushed=%d", s.Len(), len(f.flushed))
	}
}

func TestUnloadNowRemovesEvenWhenFlushFails(t *testing.T) {
	f := &recordingFlusher{err: errors.New("disk full")}
	s := NewChunkStore(nil)
	s.SetFlusher(f)
	k := ChunkKey{CX: 4, CZ: 4}
	ch := s.Load(k)
	s.MarkPending(k, 1)

	removed, err := s.UnloadNow(k)
	if !removed {
		t.Fatalf("expected removal")
	}
	if err == nil {
		t.Fatalf("expected flush error to surface")
	}
	if _, ok := s.Peek(k); ok {
		t.Fatalf("chunk still present after UnloadNow")
	}
	if ch.Residency().State() != StateUnloaded {
		t.Fatalf("detached chunk state: got %s want UNLOADED", ch.Residency())
	}
	if len(f.flushed) != 1 || f.flushed[0] != k {
		t.Fatalf("flusher calls: got %v", f.flushed)
	}
}

func TestSnapshotIsRestartable(t *testing.T) {
	s := NewChunkStore(nil)
	for i := 0; i < 5; i++ {
		s.Load(ChunkKey{CX: i, CZ: -i})
	}
	s.MarkPending(ChunkKey{CX: 2, CZ: -2}, 7)

	for pass := 0; pass < 2; pass++ {
		n, pending := 0, 0
		for _, r := range s.Snapshot() {
			n++
			if r.State() == StatePendingUnload {
				pending++
			}
		}
		if n != 5 || pending != 1 {
			t.Fatalf("pass %d: got n=%d pending=%d want 5/1", pass, n, pending)
		}
	}

	n := 0
	for range s.Snapshot() {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("early break should stop iteration")
	}
}

func TestCountsAndSortedKeys(t *testing.T) {
	s := NewChunkStore(nil)
	s.Load(ChunkKey{CX: 1, CZ: 0})
	s.Load(ChunkKey{CX: -1, CZ: 3})
	s.Load(ChunkKey{CX: -1, CZ: -3})
	s.MarkPending(ChunkKey{CX: 1, CZ: 0}, 0)

	loaded, pending := s.Counts()
	if loaded != 2 || pending != 1 {
		t.Fatalf("counts: got %d/%d want 2/1", loaded, pending)
	}
	keys := s.LoadedChunkKeys()
	want := []ChunkKey{{CX: -1, CZ: -3}, {CX: -1, CZ: 3}, {CX: 1, CZ: 0}}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d]: got %s want %s", i, keys[i], want[i])
		}
	}
}

func TestSetBlockMarksDirty(t *testing.T) {
	s := NewChunkStore(nil)
	before := s.Load(ChunkKey{CX: 0, CZ: 0}).Digest()
	s.SetBlock(1, 1, 7)
	ch, _ := s.Peek(ChunkKey{CX: 0, CZ: 0})
	if !ch.Dirty() {
		t.Fatalf("expected dirty after SetBlock")
	}
	if ch.Digest() == before {
		t.Fatalf("digest should change after SetBlock")
	}
	if got := s.GetBlock(1, 1); got != 7 {
		t.Fatalf("GetBlock: got %d want 7", got)
	}
}
