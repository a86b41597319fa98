package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeStats     = "STATS"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// EveryTicks is the push cadence in world ticks (0 = server default).
	EveryTicks int `json:"every_ticks,omitempty"`
}

// Server -> Client. Residency counters as of the last published tick.
type StatsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

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
}

// HTTP body for POST /admin/v1/watchers.
type WatchRequest struct {
	ID        string `json:"id"`
	CX        int    `json:"cx"`
	CZ        int    `json:"cz"`
	Radius    int    `json:"radius,omitempty"`
	MaxChunks int    `json:"max_chunks,omitempty"`
}

// HTTP response for POST /admin/v1/residency/unload_idle.
type UnloadIdleResponse struct {
	Force          bool `json:"force"`
	Unloaded       int  `json:"unloaded"`
	SkippedWatched int  `json:"skipped_watched"`
	SkippedPending int  `json:"skipped_pending"`
}

// HTTP response for POST /admin/v1/residency/grace.
type GraceResponse struct {
	Queued  bool  `json:"queued"`
	GraceMs int64 `json:"grace_ms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTP response for GET /admin/v1/residency?cx=&cz=.
type ChunkResidencyResponse struct {
	Tick    uint64 `json:"tick"`
	CX      int    `json:"cx"`
	CZ      int    `json:"cz"`
	Pending bool   `json:"pending"`
}

// HTTP response for GET/POST /admin/v1/blocks.
type BlockResponse struct {
	X int    `json:"x"`
	Z int    `json:"z"`
	B uint16 `json:"b"`
}
