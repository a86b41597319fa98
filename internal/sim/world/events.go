package world

import "encoding/hex"

// Residency event kinds.
const (
	EventLoad            = "LOAD"
	EventPending         = "PENDING"
	EventResume          = "RESUME"
	EventUnload          = "UNLOAD"           // grace period elapsed
	EventUnloadImmediate = "UNLOAD_IMMEDIATE" // delay disabled
	EventUnloadAdmin     = "UNLOAD_ADMIN"     // bulk unload
)

type ResidencyEvent struct {
	Kind      string `json:"kind"`
	CX        int    `json:"cx"`
	CZ        int    `json:"cz"`
	PendingMs int64  `json:"pending_ms,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TickLogEntry is written for every tick that changed residency.
type TickLogEntry struct {
	Tick     uint64           `json:"tick"`
	NowMs    int64            `json:"now_ms"`
	Loaded   int              `json:"loaded"`
	Pending  int              `json:"pending"`
	Watchers int              `json:"watchers"`
	GraceMs  int64            `json:"grace_ms"`
	Events   []ResidencyEvent `json:"events"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// MultiTickLogger writes to every logger and returns the first error.
type MultiTickLogger []TickLogger

func (m MultiTickLogger) WriteTick(entry TickLogEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteTick(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func hexDigest(d [32]byte) string { return hex.EncodeToString(d[:]) }
