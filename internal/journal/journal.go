// Package journal records each data request and its per-source outcome in a
// local sqlite database, for offline inspection of cache efficiency and
// failure patterns.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunRecord summarizes one GetData call.
type RunRecord struct {
	ID          string
	Symbol      string
	Interval    string
	WindowStart int64
	WindowEnd   int64
	Policy      string
	Rows        int64
	CacheHits   int
	VisionHits  int
	RESTHits    int
	Gaps        int
	Failed      int
	Duration    time.Duration
	StartedAt   time.Time
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			symbol       TEXT NOT NULL,
			interval     TEXT NOT NULL,
			window_start INTEGER NOT NULL,
			window_end   INTEGER NOT NULL,
			policy       TEXT NOT NULL,
			row_count    INTEGER NOT NULL,
			cache_hits   INTEGER NOT NULL,
			vision_hits  INTEGER NOT NULL,
			rest_hits    INTEGER NOT NULL,
			gaps         INTEGER NOT NULL,
			failed       INTEGER NOT NULL,
			duration_ms  INTEGER NOT NULL,
			started_at   INTEGER NOT NULL
		)`)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts one run. The record's ID is assigned here.
func (s *Store) Record(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, interval, window_start, window_end, policy,
			row_count, cache_hits, vision_hits, rest_hits, gaps, failed, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Interval, rec.WindowStart, rec.WindowEnd, rec.Policy,
		rec.Rows, rec.CacheHits, rec.VisionHits, rec.RESTHits, rec.Gaps, rec.Failed,
		rec.Duration.Milliseconds(), rec.StartedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("journal insert failed: %w", err)
	}
	return rec.ID, nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, interval, window_start, window_end, policy,
			row_count, cache_hits, vision_hits, rest_hits, gaps, failed, duration_ms, started_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var durMS, startedMS int64
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Interval, &rec.WindowStart, &rec.WindowEnd,
			&rec.Policy, &rec.Rows, &rec.CacheHits, &rec.VisionHits, &rec.RESTHits,
			&rec.Gaps, &rec.Failed, &durMS, &startedMS); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durMS) * time.Millisecond
		rec.StartedAt = time.UnixMilli(startedMS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
