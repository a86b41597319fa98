package indexdb

import (
	"context"
	"database/sql"
)

type EventRow struct {
	Tick      uint64 `json:"tick"`
	Seq       int    `json:"seq"`
	Kind      string `json:"kind"`
	CX        int    `json:"cx"`
	CZ        int    `json:"cz"`
	PendingMs int64  `json:"pending_ms"`
	Digest    string `json:"digest,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChunkHistory returns the most recent residency events of one chunk, newest first.
func ChunkHistory(ctx context.Context, db *sql.DB, cx, cz, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT tick,seq,kind,cx,cz,pending_ms,digest,dirty,error
		FROM residency_events WHERE cx=? AND cz=? ORDER BY tick DESC, seq DESC LIMIT ?`, cx, cz, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			r      EventRow
			tick   int64
			digest sql.NullString
			dirty  int
			errStr sql.NullString
		)
		if err := rows.Scan(&tick, &r.Seq, &r.Kind, &r.CX, &r.CZ, &r.PendingMs, &digest, &dirty, &errStr); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.Digest = digest.String
		r.Dirty = dirty != 0
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// KindCounts counts residency events per kind.
func KindCounts(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM residency_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) ChunkHistory(ctx context.Context, cx, cz, limit int) ([]EventRow, error) {
	return ChunkHistory(ctx, s.db, cx, cz, limit)
}

func (s *SQLiteIndex) KindCounts(ctx context.Context) (map[string]int, error) {
	return KindCounts(ctx, s.db)
}
