package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelresidency.ai/internal/sim/tuning"
	"voxelresidency.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read-model of the residency log. Writes are queued
// and applied by a single goroutine; the world loop never waits on sqlite.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTickTotal atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSync
)

type req struct {
	kind reqKind

	tick world.TickLogEntry
	done chan struct{}
}

// QueueStats reports writes dropped because the writer fell behind.
type QueueStats struct {
	DropTickTotal uint64 `json:"drop_tick_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			now_ms INTEGER NOT NULL,
			loaded INTEGER NOT NULL,
			pending INTEGER NOT NULL,
			watchers INTEGER NOT NULL,
			grace_ms INTEGER NOT NULL,
			events INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS residency_events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			pending_ms INTEGER NOT NULL,
			digest TEXT,
			dirty INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_residency_chunk_tick ON residency_events(cx, cz, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_residency_kind ON residency_events(kind);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTickTotal.Add(1)
	}
	return nil
}

// Sync waits until every write queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() QueueStats {
	return QueueStats{DropTickTotal: s.dropTickTotal.Load()}
}

// RecordConfig stores the effective tuning so offline queries can interpret
// pending durations.
func (s *SQLiteIndex) RecordConfig(t tuning.Tuning) error {
	b, err := json.Marshal(map[string]any{
		"world_id":           t.WorldID,
		"tick_rate_hz":       t.TickRateHz,
		"view_radius":        t.ViewRadius,
		"chunk_unload_delay": t.ChunkUnloadDelay,
		"grace_ms":           t.UnloadDelay().Milliseconds(),
	})
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning',?)`, string(b))
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,now_ms,loaded,pending,watchers,grace_ms,events) VALUES(?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO residency_events(tick,seq,kind,cx,cz,pending_ms,digest,dirty,error) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		e := r.tick
		if insertTick != nil {
			if _, err := tx.Stmt(insertTick).Exec(
				int64(e.Tick),
				e.NowMs,
				e.Loaded,
				e.Pending,
				e.Watchers,
				e.GraceMs,
				len(e.Events),
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		for i, ev := range e.Events {
			if insertEvent == nil {
				break
			}
			dirty := 0
			if ev.Dirty {
				dirty = 1
			}
			if _, err := tx.Stmt(insertEvent).Exec(
				int64(e.Tick),
				i,
				ev.Kind,
				ev.CX,
				ev.CZ,
				ev.PendingMs,
				nullString(ev.Digest),
				dirty,
				nullString(ev.Error),
			); err != nil {
				rollback()
				break
			}
			opCount++
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
