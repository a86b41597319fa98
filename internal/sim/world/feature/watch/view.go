package watch

import (
	"sort"

	"voxelresidency.ai/internal/sim/world/logic/mathx"
	"voxelresidency.ai/internal/sim/world/terrain/store"
)

const (
	DefaultRadius    = 6
	MaxRadius        = 32
	DefaultMaxChunks = 1024
	MaxMaxChunks     = 16384
)

// ViewSet returns the chunks within radius of center, closest first, clipped to
// maxChunks. Ties are broken by coordinate so the result is deterministic.
func ViewSet(center store.ChunkKey, radius, maxChunks int) []store.ChunkKey {
	switch {
	case radius < 0:
		radius = DefaultRadius
	case radius > MaxRadius:
		radius = MaxRadius
	}
	maxChunks = mathx.ClampInt(maxChunks, 1, MaxMaxChunks, DefaultMaxChunks)

	type item struct {
		k    store.ChunkKey
		dist int
	}
	items := make([]item, 0, (2*radius+1)*(2*radius+1))
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			k := store.ChunkKey{CX: center.CX + dx, CZ: center.CZ + dz}
			items = append(items, item{k: k, dist: mathx.AbsInt(dx) + mathx.AbsInt(dz)})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		if items[i].k.CX != items[j].k.CX {
			return items[i].k.CX < items[j].k.CX
		}
		return items[i].k.CZ < items[j].k.CZ
	})
	if len(items) > maxChunks {
		items = items[:maxChunks]
	}
	out := make([]store.ChunkKey, 0, len(items))
	for _, it := range items {
		out = append(out, it.k)
	}
	return out
}

// Diff splits the change from prev to next into entered and left chunks. The
// order of next is kept for entered, the order of prev for left.
func Diff(prev, next []store.ChunkKey) (entered, left []store.ChunkKey) {
	inPrev := make(map[store.ChunkKey]struct{}, len(prev))
	for _, k := range prev {
		inPrev[k] = struct{}{}
	}
	inNext := make(map[store.ChunkKey]struct{}, len(next))
	for _, k := range next {
		inNext[k] = struct{}{}
		if _, ok := inPrev[k]; !ok {
			entered = append(entered, k)
		}
	}
	for _, k := range prev {
		if _, ok := inNext[k]; !ok {
			left = append(left, k)
		}
	}
	return entered, left
}
