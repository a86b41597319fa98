package world

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelresidency.ai/internal/sim/residency"
	"voxelresidency.ai/internal/sim/world/feature/watch"
	"voxelresidency.ai/internal/sim/world/terrain/gen"
	"voxelresidency.ai/internal/sim/world/terrain/store"
)

type WorldConfig struct {
	ID              string
	TickRateHz      int
	ViewRadius      int
	MaxViewChunks   int
	BoundaryR       int
	BiomeRegionSize int
	Seed            int64

	// UnloadDelay is the grace period before an unused chunk is unloaded.
	// Zero or negative unloads immediately.
	UnloadDelay time.Duration
}

// WatchRequest adds a watcher or moves an existing one. Radius and MaxChunks
// fall back to the world's view settings when zero.
type WatchRequest struct {
	ID        string
	CX, CZ    int
	Radius    int
	MaxChunks int
}

// UnloadIdleRequest asks for a bulk unload of chunks nobody watches. Without
// Force, chunks with a scheduled unload are left to the scheduler.
type UnloadIdleRequest struct {
	Force bool
	Resp  chan UnloadIdleResult
}

type UnloadIdleResult struct {
	Unloaded       int `json:"unloaded"`
	SkippedWatched int `json:"skipped_watched"`
	SkippedPending int `json:"skipped_pending"`
}

// BlockRequest reads one block at world coordinates, or writes B first when Set
// is true. Either way the chunk is loaded if needed and the access counts as a
// use. Resp receives the block value after the request is applied.
type BlockRequest struct {
	X, Z int
	Set  bool
	B    uint16
	Resp chan uint16
}

// World drives chunk residency for one world.
// All state must be accessed only from the world loop goroutine, except the
// published Stats.
type World struct {
	cfg WorldConfig
	log *log.Logger
	now func() time.Time

	tick atomic.Uint64

	chunks   *store.ChunkStore
	sched    *residency.Scheduler
	tracker  *residency.Tracker
	watchers *watch.Registry

	watch   chan WatchRequest
	unwatch chan string
	unload  chan UnloadIdleRequest
	blocks  chan BlockRequest
	grace   chan time.Duration
	stop    chan struct{}
	stopped sync.Once

	// Optional (may be nil).
	tickLogger TickLogger
	// chunkFlusher runs after the digest is recorded; tests use it to inject failures.
	chunkFlusher store.Flusher

	events  []ResidencyEvent
	flushed map[store.ChunkKey]flushInfo
	totals  totals

	stats atomic.Pointer[Stats]
}

type flushInfo struct {
	digest string
	dirty  bool
}

func New(cfg WorldConfig, logger *log.Logger) *World {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.ViewRadius < 0 {
		cfg.ViewRadius = watch.DefaultRadius
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	chunks := store.NewChunkStore(gen.Flat{
		Seed:            cfg.Seed,
		BiomeRegionSize: cfg.BiomeRegionSize,
		BoundaryR:       cfg.BoundaryR,
	})
	sched := residency.NewScheduler(chunks, cfg.UnloadDelay)

	w := &World{
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		chunks:   chunks,
		sched:    sched,
		tracker:  residency.NewTracker(chunks, sched),
		watchers: watch.NewRegistry(),
		watch:    make(chan WatchRequest, 1024),
		unwatch:  make(chan string, 256),
		unload:   make(chan UnloadIdleRequest, 16),
		blocks:   make(chan BlockRequest, 256),
		grace:    make(chan time.Duration, 4),
		stop:     make(chan struct{}),
		flushed:  map[store.ChunkKey]flushInfo{},
	}
	chunks.SetFlusher(store.FlusherFunc(w.flushChunk))
	w.publish(0, 0)
	return w
}

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) WatchUpdates() chan<- WatchRequest     { return w.watch }
func (w *World) WatchLeave() chan<- string             { return w.unwatch }
func (w *World) AdminUnload() chan<- UnloadIdleRequest { return w.unload }
func (w *World) BlockAccess() chan<- BlockRequest      { return w.blocks }
func (w *World) GraceUpdates() chan<- time.Duration    { return w.grace }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// tickInputs is everything queued for the next tick.
type tickInputs struct {
	watches []WatchRequest
	leaves  []string
	unloads []UnloadIdleRequest
	blocks  []BlockRequest
	grace   *time.Duration
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var in tickInputs
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.watch:
			in.watches = append(in.watches, req)
		case id := <-w.unwatch:
			in.leaves = append(in.leaves, id)
		case req := <-w.unload:
			in.unloads = append(in.unloads, req)
		case req := <-w.blocks:
			in.blocks = append(in.blocks, req)
		case d := <-w.grace:
			in.grace = &d
		case <-ticker.C:
			w.step(w.now().UnixMilli(), in)
			in = tickInputs{}
		}
	}
}

func (w *World) Stop() { w.stopped.Do(func() { close(w.stop) }) }

func (w *World) flushChunk(ch *store.Chunk) error {
	dirty := ch.Dirty()
	d := ch.Digest()
	w.flushed[ch.Key()] = flushInfo{digest: hexDigest(d), dirty: dirty}
	if w.chunkFlusher == nil {
		return nil
	}
	return w.chunkFlusher.FlushChunk(ch)
}
