package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "voxelresidency.ai/internal/persistence/log"
	"voxelresidency.ai/internal/sim/residency"
	"voxelresidency.ai/internal/sim/tuning"
	"voxelresidency.ai/internal/sim/world"
	"voxelresidency.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (default: tuning world_id)")
		seed       = flag.Int64("seed", 0, "world seed (default: tuning seed)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite residency index")
		watchCfg   = flag.Bool("watch_tuning", true, "apply chunk_unload_delay changes from tuning.yaml without restart")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		tune.WorldID = id
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	worldDir := filepath.Join(*dataDir, "worlds", tune.WorldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Optional: read-model index backend (does not affect residency decisions).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordConfig(tune); err != nil {
			logger.Printf("index backend: record config: %v", err)
		}
	}

	w := world.New(worldConfig(tune), logger)

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	loggers := world.MultiTickLogger{tickLog}
	if idx != nil {
		loggers = append(loggers, idx)
	}
	w.SetTickLogger(loggers)

	ctx, cancel := signalContext()
	defer cancel()

	if *watchCfg {
		if err := watchTuning(ctx, tp, w, logger); err != nil {
			logger.Printf("tuning watch disabled: %v", err)
		}
	}

	// The deferred log and index closes must run after the world loop has
	// written its last tick.
	runDone := startWorld(ctx, w, logger)
	defer func() {
		cancel()
		<-runDone
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		writeMetrics(rw, w.Stats(), idx)
	})

	enableAdminHTTP := envBool("VR_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VR_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints and the observer stats stream.
		observer.NewServer(w, logger, tune.StatsEveryTicks).Register(mux)
	} else {
		logger.Printf("admin endpoints disabled (VR_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VR_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world=%s tick_rate=%dHz chunk_unload_delay=%s listening on %s",
		tune.WorldID, tune.TickRateHz, tune.UnloadDelay(), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func worldConfig(t tuning.Tuning) world.WorldConfig {
	return world.WorldConfig{
		ID:              t.WorldID,
		TickRateHz:      t.TickRateHz,
		ViewRadius:      t.ViewRadius,
		MaxViewChunks:   t.MaxViewChunks,
		BoundaryR:       t.WorldBoundaryR,
		BiomeRegionSize: t.BiomeRegionSize,
		Seed:            t.Seed,
		UnloadDelay:     t.UnloadDelay(),
	}
}

// watchTuning forwards chunk_unload_delay edits to the world loop. Other
// fields are fixed for the process lifetime.
func watchTuning(ctx context.Context, path string, w *world.World, logger *log.Logger) error {
	tw, err := tuning.Watch(path)
	if err != nil {
		return err
	}
	go func() {
		defer tw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-tw.Errors:
				if !ok {
					return
				}
				logger.Printf("tuning reload: %v", err)
			case t, ok := <-tw.Updates:
				if !ok {
					return
				}
				d := t.UnloadDelay()
				if !graceChanged(d, w.Stats()) {
					continue
				}
				select {
				case w.GraceUpdates() <- d:
				default:
					logger.Printf("tuning reload: world busy; dropped chunk_unload_delay=%s", d)
				}
			}
		}
	}()
	return nil
}

// startWorld runs the world loop; the returned channel closes once Run has
// returned and no further tick can reach the loggers.
func startWorld(ctx context.Context, w *world.World, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()
	return done
}

// graceChanged compares a reloaded delay with the grace the world runs with,
// which may have been changed over the admin API since startup.
func graceChanged(d time.Duration, st *world.Stats) bool {
	return st == nil || residency.GraceToMillis(d) != st.GraceMs
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
