package world

import (
	"voxelresidency.ai/internal/sim/residency"
	"voxelresidency.ai/internal/sim/world/logic/mathx"
	"voxelresidency.ai/internal/sim/world/terrain/store"
)

// step runs one tick at nowMs (unix millis). Watcher changes and admin work
// come first; the sweep is always the last thing that can unload a chunk.
func (w *World) step(nowMs int64, in tickInputs) {
	w.tick.Add(1)
	w.events = w.events[:0]

	if in.grace != nil {
		prev := w.sched.GraceMillis()
		w.sched.SetGrace(*in.grace)
		w.log.Printf("chunk unload delay: %dms -> %dms", prev, w.sched.GraceMillis())
	}

	for _, id := range in.leaves {
		ch := w.watchers.Remove(id)
		w.release(ch.Released, nowMs)
	}
	for _, req := range in.watches {
		if req.ID == "" {
			continue
		}
		radius := req.Radius
		if radius == 0 {
			radius = w.cfg.ViewRadius
		}
		maxChunks := req.MaxChunks
		if maxChunks == 0 {
			maxChunks = w.cfg.MaxViewChunks
		}
		ch := w.watchers.Upsert(req.ID, store.ChunkKey{CX: req.CX, CZ: req.CZ}, radius, maxChunks)
		for _, k := range ch.Entered {
			w.loadChunk(k)
		}
		w.release(ch.Released, nowMs)
	}
	for _, req := range in.blocks {
		cx, _ := mathx.BlockToChunk(req.X)
		cz, _ := mathx.BlockToChunk(req.Z)
		w.loadChunk(store.ChunkKey{CX: cx, CZ: cz})
		if req.Set {
			w.chunks.SetBlock(req.X, req.Z, req.B)
		}
		b := w.chunks.GetBlock(req.X, req.Z)
		if req.Resp != nil {
			req.Resp <- b
		}
	}
	for _, k := range w.tracker.DrainResumed() {
		w.totals.resumes++
		w.events = append(w.events, ResidencyEvent{Kind: EventResume, CX: k.CX, CZ: k.CZ})
	}

	for _, req := range in.unloads {
		res := w.unloadIdle(nowMs, req.Force)
		if req.Resp != nil {
			req.Resp <- res
		}
	}

	w.releaseOrphans(nowMs)

	unloads := w.sched.Sweep(nowMs)
	for _, u := range unloads {
		w.recordUnload(EventUnload, u.Key, u.PendingMs, u.Err)
	}

	w.publish(nowMs, w.countUnloads())
	w.logTick(nowMs)
}

// loadChunk makes k resident through the store's access path, which also
// cancels a pending unload.
func (w *World) loadChunk(k store.ChunkKey) *store.Chunk {
	_, existed := w.chunks.Peek(k)
	ch := w.chunks.Load(k)
	if !existed {
		w.totals.loads++
		w.events = append(w.events, ResidencyEvent{Kind: EventLoad, CX: k.CX, CZ: k.CZ})
	}
	return ch
}

// release is called for chunks that just lost their last watcher.
func (w *World) release(keys []store.ChunkKey, nowMs int64) {
	for _, k := range keys {
		out, err := w.tracker.MarkUnused(k, nowMs)
		switch out {
		case residency.Pending:
			w.events = append(w.events, ResidencyEvent{Kind: EventPending, CX: k.CX, CZ: k.CZ})
		case residency.Unloaded:
			w.recordUnload(EventUnloadImmediate, k, 0, err)
		}
	}
}

// releaseOrphans starts the grace period for loaded chunks that no watcher
// needs, e.g. chunks loaded only to read a block.
func (w *World) releaseOrphans(nowMs int64) {
	var orphans []store.ChunkKey
	for k, r := range w.chunks.Snapshot() {
		if r.State() == store.StateLoaded && !w.watchers.Watched(k) {
			orphans = append(orphans, k)
		}
	}
	w.release(orphans, nowMs)
}

// busy reports whether the normal bulk unload path must leave k alone: it is
// watched, or the scheduler already owns its unload.
func (w *World) busy(k store.ChunkKey) bool {
	return w.watchers.Watched(k) || w.tracker.IsPending(k)
}

// unloadIdle removes resident chunks that nobody watches. Force overrides the
// grace period for pending chunks; watched chunks are never removed.
func (w *World) unloadIdle(nowMs int64, force bool) UnloadIdleResult {
	var res UnloadIdleResult
	for _, k := range w.chunks.LoadedChunkKeys() {
		if w.watchers.Watched(k) {
			res.SkippedWatched++
			continue
		}
		if w.busy(k) && !force {
			res.SkippedPending++
			continue
		}
		var pendingMs int64
		if since, ok := w.chunks.Residency(k).Since(); ok {
			pendingMs = nowMs - since
		}
		removed, err := w.chunks.UnloadNow(k)
		if !removed {
			continue
		}
		res.Unloaded++
		w.recordUnload(EventUnloadAdmin, k, pendingMs, err)
	}
	if res.Unloaded > 0 {
		w.log.Printf("bulk unload (force=%v): unloaded=%d skipped_watched=%d skipped_pending=%d",
			force, res.Unloaded, res.SkippedWatched, res.SkippedPending)
	}
	return res
}

func (w *World) recordUnload(kind string, k store.ChunkKey, pendingMs int64, err error) {
	w.totals.unloads++
	ev := ResidencyEvent{Kind: kind, CX: k.CX, CZ: k.CZ, PendingMs: pendingMs}
	if fi, ok := w.flushed[k]; ok {
		ev.Digest = fi.digest
		ev.Dirty = fi.dirty
		delete(w.flushed, k)
	}
	if err != nil {
		ev.Error = err.Error()
		w.log.Printf("unload %s: %v", k, err)
	}
	w.events = append(w.events, ev)
}

func (w *World) countUnloads() int {
	n := 0
	for _, ev := range w.events {
		switch ev.Kind {
		case EventUnload, EventUnloadImmediate, EventUnloadAdmin:
			n++
		}
	}
	return n
}

func (w *World) logTick(nowMs int64) {
	if w.tickLogger == nil || len(w.events) == 0 {
		return
	}
	st := w.Stats()
	entry := TickLogEntry{
		Tick:     st.Tick,
		NowMs:    nowMs,
		Loaded:   st.Loaded,
		Pending:  st.Pending,
		Watchers: st.Watchers,
		GraceMs:  st.GraceMs,
		Events:   append([]ResidencyEvent(nil), w.events...),
	}
	if err := w.tickLogger.WriteTick(entry); err != nil {
		w.log.Printf("tick log: %v", err)
	}
}
