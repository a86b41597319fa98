package store

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"voxelresidency.ai/internal/sim/world/logic/mathx"
)

type ChunkKey struct {
	CX int
	CZ int
}

func (k ChunkKey) String() string { return fmt.Sprintf("(%d,%d)", k.CX, k.CZ) }

type State uint8

const (
	StateUnloaded State = iota
	StateLoaded
	StatePendingUnload
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "LOADED"
	case StatePendingUnload:
		return "PENDING_UNLOAD"
	default:
		return "UNLOADED"
	}
}

// Residency is the lifecycle state of a chunk. The pending timestamp is only
// reachable through Since, which reports it exclusively for StatePendingUnload.
// The zero value is Unloaded.
type Residency struct {
	state State
	since int64 // unix millis
}

func Loaded() Residency { return Residency{state: StateLoaded} }

func PendingSince(ms int64) Residency { return Residency{state: StatePendingUnload, since: ms} }

func (r Residency) State() State { return r.state }

func (r Residency) Since() (int64, bool) {
	if r.state != StatePendingUnload {
		return 0, false
	}
	return r.since, true
}

// Resident reports whether the chunk is in memory (Loaded or PendingUnload).
func (r Residency) Resident() bool { return r.state != StateUnloaded }

func (r Residency) String() string {
	if since, ok := r.Since(); ok {
		return fmt.Sprintf("%s@%d", r.state, since)
	}
	return r.state.String()
}

type Chunk struct {
	CX, CZ int
	Blocks []uint16 // len = 16*16 (single layer)

	residency Residency

	dirty bool
	hash  [32]byte
}

func (c *Chunk) Key() ChunkKey { return ChunkKey{CX: c.CX, CZ: c.CZ} }

func (c *Chunk) Residency() Residency { return c.residency }

func (c *Chunk) index(x, z int) int {
	return x + z*mathx.ChunkSize
}

func (c *Chunk) Get(x, z int) uint16 {
	return c.Blocks[c.index(x, z)]
}

func (c *Chunk) Set(x, z int, b uint16) {
	i := c.index(x, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

// Dirty reports whether the chunk changed since it was loaded or last digested.
func (c *Chunk) Dirty() bool { return c.dirty }

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}
