package residency

import (
	"time"

	"voxelresidency.ai/internal/sim/world/terrain/store"
)

// DefaultGrace is the unload delay used when the configuration does not set one.
const DefaultGrace = 10 * time.Second

// Unload describes one chunk removed by a sweep.
type Unload struct {
	Key       store.ChunkKey
	PendingMs int64 // time spent pending before removal
	Err       error // flush error; the chunk is removed regardless
}

// Scheduler is the only component that unloads chunks because time passed.
type Scheduler struct {
	store   *store.ChunkStore
	graceMs int64
}

func NewScheduler(s *store.ChunkStore, grace time.Duration) *Scheduler {
	sc := &Scheduler{store: s}
	sc.SetGrace(grace)
	return sc
}

// SetGrace changes the grace period. Values of zero or less disable the delay.
func (s *Scheduler) SetGrace(grace time.Duration) { s.graceMs = GraceToMillis(grace) }

// GraceToMillis converts a grace period to the millisecond resolution of the
// sweep. Positive periods under 1ms round up to 1ms so they keep the delay on.
func GraceToMillis(grace time.Duration) int64 {
	if grace <= 0 {
		return 0
	}
	ms := grace.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}

func (s *Scheduler) GraceMillis() int64 { return s.graceMs }

// Delayed reports whether unused chunks wait for a sweep before unloading.
func (s *Scheduler) Delayed() bool { return s.graceMs > 0 }

// Expired reports whether r is a pending residency whose grace period has
// elapsed at nowMs.
func (s *Scheduler) Expired(r store.Residency, nowMs int64) bool {
	since, ok := r.Since()
	return ok && nowMs-since >= s.graceMs
}

// Sweep unloads every pending chunk whose grace period has elapsed at nowMs.
// All eligible chunks go in the same call. With the delay disabled every
// pending chunk is eligible, which drains chunks left pending by a grace change.
func (s *Scheduler) Sweep(nowMs int64) []Unload {
	var due []store.ChunkKey
	var pendingMs []int64
	for k, r := range s.store.Snapshot() {
		if !s.Expired(r, nowMs) {
			continue
		}
		since, _ := r.Since()
		due = append(due, k)
		pendingMs = append(pendingMs, nowMs-since)
	}
	if len(due) == 0 {
		return nil
	}

	out := make([]Unload, 0, len(due))
	for i, k := range due {
		s.store.ClearPending(k)
		removed, err := s.store.UnloadNow(k)
		if !removed {
			continue
		}
		out = append(out, Unload{Key: k, PendingMs: pendingMs[i], Err: err})
	}
	return out
}
