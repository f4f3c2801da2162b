// Package store owns the SQLite database: quote rows, the processed-file
// ledger and the corporate-action table. All access goes through a single
// *sql.DB with one connection, so writers never race each other.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"fiiscan/internal/cache"
)

// Options tunes connection and batching behavior.
type Options struct {
	TimeoutSeconds int // busy_timeout, seconds
	LoteSmall      int
	LoteMedium     int
	LoteLarge      int
	LoteMaxBytes   int
}

// DefaultOptions matches the config defaults.
func DefaultOptions() Options {
	return Options{
		TimeoutSeconds: 30,
		LoteSmall:      1000,
		LoteMedium:     5000,
		LoteLarge:      10000,
		LoteMaxBytes:   1 << 20,
	}
}

// Store wraps the database handle. Method groups live in quotes.go,
// ledger.go and events.go.
//
// mu keeps the cache coherent with the database: cached readers hold the
// read lock across query-then-populate, mutations hold the write lock
// across commit-then-invalidate. Without it a reader could re-populate a
// namespace with a pre-mutation value just after the writer invalidated it.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	cache *cache.Cache
	opts  Options
	log   zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	date        TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	open        REAL NOT NULL,
	high        REAL NOT NULL,
	low         REAL NOT NULL,
	close       REAL NOT NULL,
	volume      REAL NOT NULL,
	trade_count INTEGER NOT NULL,
	quantity    INTEGER NOT NULL,
	PRIMARY KEY (date, ticker)
);
CREATE INDEX IF NOT EXISTS idx_quotes_date   ON quotes(date);
CREATE INDEX IF NOT EXISTS idx_quotes_ticker ON quotes(ticker);

CREATE TABLE IF NOT EXISTS files_processed (
	archive_name TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	rows_added   INTEGER NOT NULL,
	content_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS corporate_actions (
	ticker         TEXT NOT NULL,
	effective_date TEXT NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('split','reverse_split')),
	factor         REAL NOT NULL CHECK (factor > 0),
	recorded_at    TEXT NOT NULL,
	PRIMARY KEY (ticker, effective_date, kind)
);
`

// Open opens (creating if needed) the database at path, applies the
// connection PRAGMAs and ensures the schema exists.
func Open(path string, opts Options, c *cache.Cache, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and a single handle
	// keeps the WAL checkpointing predictable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.TimeoutSeconds*1000),
		"PRAGMA cache_size=-20000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, cache: c, opts: opts, log: log}
	log.Info().Str("path", path).Msg("database opened")
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// withRetry runs fn, retrying a handful of times when SQLite reports the
// database locked. busy_timeout covers most contention; this catches the
// immediate-return cases.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		s.log.Warn().Int("attempt", i+1).Msg("database locked, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return err
}

func (s *Store) invalidate(namespaces ...string) {
	if s.cache == nil {
		return
	}
	for _, ns := range namespaces {
		s.cache.Invalidate(ns)
	}
}
