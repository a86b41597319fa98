package residency

import (
	"voxelresidency.ai/internal/sim/world/terrain/store"
)

// Outcome is the effect of a MarkUnused call.
type Outcome uint8

const (
	// Ignored: the chunk is absent or already pending.
	Ignored Outcome = iota
	// Pending: the chunk now waits for the grace period.
	Pending
	// Unloaded: the delay is disabled and the chunk was removed immediately.
	Unloaded
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "PENDING"
	case Unloaded:
		return "UNLOADED"
	default:
		return "IGNORED"
	}
}

// Tracker turns watcher lifecycle signals into residency transitions.
type Tracker struct {
	store *store.ChunkStore
	sched *Scheduler

	resumed []store.ChunkKey
}

// NewTracker registers MarkUsed as the store's access hook, so every chunk the
// store hands out cancels its own pending unload.
func NewTracker(s *store.ChunkStore, sched *Scheduler) *Tracker {
	t := &Tracker{store: s, sched: sched}
	s.OnAccess(func(k store.ChunkKey) { t.MarkUsed(k) })
	return t
}

// MarkUsed cancels a pending unload. It reports whether a cancellation happened.
func (t *Tracker) MarkUsed(k store.ChunkKey) bool {
	if !t.store.ClearPending(k) {
		return false
	}
	t.resumed = append(t.resumed, k)
	return true
}

// MarkUnused starts the grace period for k at nowMs. A chunk already pending
// keeps its original timestamp; only a use resets the clock.
func (t *Tracker) MarkUnused(k store.ChunkKey, nowMs int64) (Outcome, error) {
	if t.store.Residency(k).State() != store.StateLoaded {
		return Ignored, nil
	}
	if !t.sched.Delayed() {
		_, err := t.store.UnloadNow(k)
		return Unloaded, err
	}
	t.store.MarkPending(k, nowMs)
	return Pending, nil
}

// IsPending reports whether k has an unload scheduled.
func (t *Tracker) IsPending(k store.ChunkKey) bool {
	return t.store.Residency(k).State() == store.StatePendingUnload
}

// DrainResumed returns the chunks whose pending unload was cancelled since the
// previous call.
func (t *Tracker) DrainResumed() []store.ChunkKey {
	out := t.resumed
	t.resumed = nil
	return out
}
