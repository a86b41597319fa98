package log

import (
	"os"
	"path/filepath"
	"testing"

	"voxelresidency.ai/internal/sim/world"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := 1; i <= 3; i++ {
		err := l.WriteTick(world.TickLogEntry{
			Tick:    uint64(i),
			NowMs:   int64(i) * 50,
			Loaded:  i,
			GraceMs: 10000,
			Events:  []world.ResidencyEvent{{Kind: world.EventLoad, CX: i, CZ: -i}},
		})
		if err != nil {
			t.Fatalf("write tick %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []world.TickLogEntry
	if err := ReadTicks(dir, func(e world.TickLogEntry) bool {
		got = append(got, e)
		return true
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries: got %d want 3", len(got))
	}
	if got[2].Tick != 3 || got[2].Events[0].CX != 3 || got[2].Events[0].Kind != world.EventLoad {
		t.Fatalf("last entry: got %+v", got[2])
	}
}

func TestReadTicksStopsEarlyAndSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := 1; i <= 5; i++ {
		_ = l.WriteTick(world.TickLogEntry{Tick: uint64(i)})
	}
	_ = l.Close()
	if err := os.WriteFile(filepath.Join(dir, "events", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}

	n := 0
	err := ReadTicks(dir, func(world.TickLogEntry) bool {
		n++
		return n < 2
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("callback calls: got %d want 2", n)
	}
}

func TestReopenAppendsWithinHour(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 2; i++ {
		l := NewTickLogger(dir)
		_ = l.WriteTick(world.TickLogEntry{Tick: uint64(i)})
		_ = l.Close()
	}
	n := 0
	if err := ReadTicks(dir, func(world.TickLogEntry) bool { n++; return true }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries across reopen: got %d want 2", n)
	}
}
