package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "voxelresidency.ai/internal/persistence/log"
	"voxelresidency.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "residency":
			residencyCmd(os.Args[2:])
			return
		case "unload":
			unloadCmd(os.Args[2:])
			return
		case "grace":
			graceCmd(os.Args[2:])
			return
		case "watch":
			watchCmd(os.Args[2:])
			return
		case "block":
			blockCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// eventFilter selects residency events from the tick log.
type eventFilter struct {
	sinceTick uint64
	toTick    uint64
	kind      string
	chunk     *[2]int
}

func (f eventFilter) match(tick uint64, ev world.ResidencyEvent) bool {
	if tick < f.sinceTick {
		return false
	}
	if f.toTick != 0 && tick > f.toTick {
		return false
	}
	if f.kind != "" && !strings.EqualFold(f.kind, ev.Kind) {
		return false
	}
	if f.chunk != nil && (ev.CX != f.chunk[0] || ev.CZ != f.chunk[1]) {
		return false
	}
	return true
}

type eventRec struct {
	Tick  uint64 `json:"tick"`
	NowMs int64  `json:"now_ms"`
	world.ResidencyEvent
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	kind := fs.String("kind", "", "event kind filter (LOAD, PENDING, RESUME, UNLOAD, UNLOAD_IMMEDIATE, UNLOAD_ADMIN)")
	chunk := fs.String("chunk", "", "chunk filter: cx,cz")
	limit := fs.Int("limit", 0, "stop after this many events (0 = no limit)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	f := eventFilter{sinceTick: *sinceTick, toTick: *toTick, kind: strings.TrimSpace(*kind)}
	if strings.TrimSpace(*chunk) != "" {
		c, err := parseChunk(*chunk)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -chunk:", err)
			os.Exit(2)
		}
		f.chunk = &c
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	recs, err := collectEvents(worldDir, f, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	for _, r := range recs {
		printJSON(r)
	}
}

func collectEvents(worldDir string, f eventFilter, limit int) ([]eventRec, error) {
	var out []eventRec
	err := persistlog.ReadTicks(worldDir, func(e world.TickLogEntry) bool {
		if f.toTick != 0 && e.Tick > f.toTick {
			return false
		}
		for _, ev := range e.Events {
			if !f.match(e.Tick, ev) {
				continue
			}
			out = append(out, eventRec{Tick: e.Tick, NowMs: e.NowMs, ResidencyEvent: ev})
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	return out, err
}

func parseChunk(s string) ([2]int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return [2]int{}, fmt.Errorf("expected cx,cz")
	}
	var out [2]int
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &out[i]); err != nil {
			return [2]int{}, fmt.Errorf("bad coordinate %q", p)
		}
	}
	return out, nil
}
