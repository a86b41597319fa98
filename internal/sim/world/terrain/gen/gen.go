package gen

import "voxelresidency.ai/internal/sim/world/logic/mathx"

// Block ids used by the default fill. The palette is fixed; chunk content is not
// interpreted anywhere else in the server.
const (
	Air uint16 = iota
	Dirt
	Sand
	Stone
	Log
)

// Flat is the default load routine for chunks that are not resident yet: a single
// block layer derived from the seed so a reloaded chunk comes back identical.
type Flat struct {
	Seed            int64
	BiomeRegionSize int
	BoundaryR       int // blocks; 0 = unbounded
}

func BiomeFrom(noise uint64) string {
	switch noise % 3 {
	case 0:
		return "PLAINS"
	case 1:
		return "FOREST"
	default:
		return "DESERT"
	}
}

func BiomeAt(seed int64, x, z, regionSize int) string {
	if regionSize <= 0 {
		regionSize = 1
	}
	rx := mathx.FloorDiv(x, regionSize)
	rz := mathx.FloorDiv(z, regionSize)
	return BiomeFrom(mathx.Hash2(seed, rx, rz))
}

func (g Flat) inBounds(x, z int) bool {
	if g.BoundaryR <= 0 {
		return true
	}
	return x >= -g.BoundaryR && x <= g.BoundaryR && z >= -g.BoundaryR && z <= g.BoundaryR
}

// LoadChunk implements store.Loader.
func (g Flat) LoadChunk(cx, cz int) []uint16 {
	blocks := make([]uint16, mathx.ChunkSize*mathx.ChunkSize)
	for z := 0; z < mathx.ChunkSize; z++ {
		for x := 0; x < mathx.ChunkSize; x++ {
			wx := cx*mathx.ChunkSize + x
			wz := cz*mathx.ChunkSize + z
			if !g.inBounds(wx, wz) {
				continue
			}
			blocks[x+z*mathx.ChunkSize] = g.blockAt(wx, wz)
		}
	}
	return blocks
}

func (g Flat) blockAt(wx, wz int) uint16 {
	roll := mathx.Hash2(g.Seed+999, wx, wz) % 1000
	switch BiomeAt(g.Seed, wx, wz, g.BiomeRegionSize) {
	case "FOREST":
		switch {
		case roll < 40:
			return Log
		case roll < 90:
			return Stone
		case roll < 200:
			return Dirt
		}
	case "DESERT":
		switch {
		case roll < 60:
			return Stone
		case roll < 400:
			return Sand
		}
	default:
		switch {
		case roll < 50:
			return Stone
		case roll < 150:
			return Dirt
		}
	}
	return Air
}
