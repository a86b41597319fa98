package world

import "voxelresidency.ai/internal/sim/world/terrain/store"

type totals struct {
	loads   uint64
	resumes uint64
	unloads uint64
}

// Stats is an immutable view published after every tick. Readers on other
// goroutines see the last completed tick; the view may be slightly stale.
type Stats struct {
	WorldID      string `json:"world_id"`
	Tick         uint64 `json:"tick"`
	NowMs        int64  `json:"now_ms"`
	Loaded       int    `json:"loaded"`
	Pending      int    `json:"pending"`
	Watchers     int    `json:"watchers"`
	GraceMs      int64  `json:"grace_ms"`
	UnloadsTick  int    `json:"unloads_tick"`
	LoadsTotal   uint64 `json:"loads_total"`
	ResumesTotal uint64 `json:"resumes_total"`
	UnloadsTotal uint64 `json:"unloads_total"`

	pending map[store.ChunkKey]int64
}

// PendingSince reports when k started waiting for its unload, as of this view.
func (s *Stats) PendingSince(k store.ChunkKey) (int64, bool) {
	since, ok := s.pending[k]
	return since, ok
}

// Stats returns the view of the last completed tick. Safe for concurrent use.
func (w *World) Stats() *Stats { return w.stats.Load() }

// IsPendingUnload reports whether k had an unload scheduled at the last
// completed tick. Safe for concurrent use.
func (w *World) IsPendingUnload(k store.ChunkKey) bool {
	_, ok := w.Stats().PendingSince(k)
	return ok
}

func (w *World) publish(nowMs int64, unloadsTick int) {
	pending := map[store.ChunkKey]int64{}
	loaded := 0
	for k, r := range w.chunks.Snapshot() {
		if since, ok := r.Since(); ok {
			pending[k] = since
			continue
		}
		loaded++
	}
	w.stats.Store(&Stats{
		WorldID:      w.cfg.ID,
		Tick:         w.tick.Load(),
		NowMs:        nowMs,
		Loaded:       loaded,
		Pending:      len(pending),
		Watchers:     w.watchers.Len(),
		GraceMs:      w.sched.GraceMillis(),
		UnloadsTick:  unloadsTick,
		LoadsTotal:   w.totals.loads,
		ResumesTotal: w.totals.resumes,
		UnloadsTotal: w.totals.unloads,
		pending:      pending,
	})
}
