package store

import (
	"fmt"
	"iter"
	"sort"

	"voxelresidency.ai/internal/sim/world/logic/mathx"
)

// Loader produces block data for a chunk that is not resident.
type Loader interface {
	LoadChunk(cx, cz int) []uint16
}

// Flusher is called synchronously with a chunk right before it leaves the store.
type Flusher interface {
	FlushChunk(ch *Chunk) error
}

type FlusherFunc func(ch *Chunk) error

func (f FlusherFunc) FlushChunk(ch *Chunk) error { return f(ch) }

// ChunkStore owns every resident chunk. It is not safe for concurrent use; the
// world loop goroutine is its only caller.
type ChunkStore struct {
	loader   Loader
	flusher  Flusher
	onAccess func(ChunkKey)

	chunks map[ChunkKey]*Chunk
}

func NewChunkStore(loader Loader) *ChunkStore {
	return &ChunkStore{
		loader: loader,
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) SetFlusher(f Flusher) { s.flusher = f }

// OnAccess registers the hook run for every chunk Load hands back to a caller.
func (s *ChunkStore) OnAccess(fn func(ChunkKey)) { s.onAccess = fn }

// Load returns the resident chunk at k, loading it first if needed.
func (s *ChunkStore) Load(k ChunkKey) *Chunk {
	if ch, ok := s.chunks[k]; ok {
		return s.resident(ch)
	}
	var blocks []uint16
	if s.loader != nil {
		blocks = s.loader.LoadChunk(k.CX, k.CZ)
	}
	if len(blocks) != mathx.ChunkSize*mathx.ChunkSize {
		blocks = make([]uint16, mathx.ChunkSize*mathx.ChunkSize)
	}
	ch := &Chunk{
		CX:        k.CX,
		CZ:        k.CZ,
		Blocks:    blocks,
		residency: Loaded(),
	}
	_ = ch.Digest()
	s.chunks[k] = ch
	return s.resident(ch)
}

// resident is the single exit for chunks returned to callers.
func (s *ChunkStore) resident(ch *Chunk) *Chunk {
	if s.onAccess != nil {
		s.onAccess(ch.Key())
	}
	return ch
}

// Peek returns the chunk without counting as an access.
func (s *ChunkStore) Peek(k ChunkKey) (*Chunk, bool) {
	ch, ok := s.chunks[k]
	return ch, ok
}

// Residency returns the state of k; absent chunks report Unloaded.
func (s *ChunkStore) Residency(k ChunkKey) Residency {
	if ch, ok := s.chunks[k]; ok {
		return ch.residency
	}
	return Residency{}
}

// UnloadNow flushes and removes k regardless of its pending state. The key is
// absent when UnloadNow returns, even if the flush failed.
func (s *ChunkStore) UnloadNow(k ChunkKey) (bool, error) {
	ch, ok := s.chunks[k]
	if !ok {
		return false, nil
	}
	var err error
	if s.flusher != nil {
		if ferr := s.flusher.FlushChunk(ch); ferr != nil {
			err = fmt.Errorf("flush chunk %s: %w", k, ferr)
		}
	}
	delete(s.chunks, k)
	ch.residency = Residency{}
	return true, err
}

// MarkPending moves a Loaded chunk to PendingUnload at nowMs. It returns false
// for absent chunks and for chunks that are already pending.
func (s *ChunkStore) MarkPending(k ChunkKey, nowMs int64) bool {
	ch, ok := s.chunks[k]
	if !ok || ch.residency.State() != StateLoaded {
		return false
	}
	ch.residency = PendingSince(nowMs)
	return true
}

// ClearPending moves a PendingUnload chunk back to Loaded.
func (s *ChunkStore) ClearPending(k ChunkKey) bool {
	ch, ok := s.chunks[k]
	if !ok || ch.residency.State() != StatePendingUnload {
		return false
	}
	ch.residency = Loaded()
	return true
}

// Snapshot yields every resident chunk key with its residency. Order is
// unspecified. The store must not be mutated while the sequence is consumed.
func (s *ChunkStore) Snapshot() iter.Seq2[ChunkKey, Residency] {
	return func(yield func(ChunkKey, Residency) bool) {
		for k, ch := range s.chunks {
			if !yield(k, ch.residency) {
				return
			}
		}
	}
}

func (s *ChunkStore) Len() int { return len(s.chunks) }

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Counts returns the number of Loaded and PendingUnload chunks.
func (s *ChunkStore) Counts() (loaded, pending int) {
	for _, ch := range s.chunks {
		switch ch.residency.State() {
		case StateLoaded:
			loaded++
		case StatePendingUnload:
			pending++
		}
	}
	return loaded, pending
}
