package gen

import "testing"

func TestFlatLoadChunkDeterministic(t *testing.T) {
	g := Flat{Seed: 42, BiomeRegionSize: 64}
	a := g.LoadChunk(3, -7)
	b := g.LoadChunk(3, -7)
	if len(a) != 256 {
		t.Fatalf("blocks length: got %d want 256", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("block %d differs between loads: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestFlatOutsideBoundaryIsAir(t *testing.T) {
	g := Flat{Seed: 1, BiomeRegionSize: 8, BoundaryR: 8}
	blocks := g.LoadChunk(5, 5)
	for i, b := range blocks {
		if b != Air {
			t.Fatalf("block %d outside boundary: got %d want air", i, b)
		}
	}
}
