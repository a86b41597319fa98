package store

import "voxelresidency.ai/internal/sim/world/logic/mathx"

// GetBlock reads a single-layer block at world coordinates. The owning chunk is
// loaded if necessary and the read counts as an access.
func (s *ChunkStore) GetBlock(x, z int) uint16 {
	cx, lx := mathx.BlockToChunk(x)
	cz, lz := mathx.BlockToChunk(z)
	return s.Load(ChunkKey{CX: cx, CZ: cz}).Get(lx, lz)
}

func (s *ChunkStore) SetBlock(x, z int, b uint16) {
	cx, lx := mathx.BlockToChunk(x)
	cz, lz := mathx.BlockToChunk(z)
	s.Load(ChunkKey{CX: cx, CZ: cz}).Set(lx, lz, b)
}
