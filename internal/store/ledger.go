package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fiiscan/internal/models"
	"fiiscan/internal/parser"
)

const nsArchives = "archives"

// Verdict is the ledger's answer for an archive about to be ingested.
type Verdict int

const (
	// Unseen: no ledger row for this archive name.
	Unseen Verdict = iota
	// Unchanged: ledger row exists and the content hash matches.
	Unchanged
	// Modified: ledger row exists but the published bytes changed.
	Modified
)

func (v Verdict) String() string {
	switch v {
	case Unseen:
		return "unseen"
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	}
	return "unknown"
}

// Check compares the archive's current content hash against the ledger.
func (s *Store) Check(ctx context.Context, archiveName, contentHash string) (Verdict, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM files_processed WHERE archive_name = ?`,
		archiveName).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return Unseen, nil
	}
	if err != nil {
		return Unseen, fmt.Errorf("ledger check %s: %w", archiveName, err)
	}
	if stored == contentHash {
		return Unchanged, nil
	}
	return Modified, nil
}

// Record upserts the ledger row for an archive after a successful ingest.
func (s *Store) Record(ctx context.Context, archiveName, kind string, rowsAdded int64, contentHash string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO files_processed (archive_name, kind, processed_at, rows_added, content_hash)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(archive_name) DO UPDATE SET
				kind = excluded.kind,
				processed_at = excluded.processed_at,
				rows_added = excluded.rows_added,
				content_hash = excluded.content_hash`,
			archiveName, kind, now, rowsAdded, contentHash)
		return err
	})
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", archiveName, err)
	}
	s.invalidate(nsArchives)
	return nil
}

// Touch refreshes only processed_at, for archives re-fetched but unchanged.
func (s *Store) Touch(ctx context.Context, archiveName string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE files_processed SET processed_at = ? WHERE archive_name = ?`,
			now, archiveName)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("archive %s not in ledger", archiveName)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger touch: %w", err)
	}
	s.invalidate(nsArchives)
	return nil
}

// ListArchives returns the full ledger, most recently processed first.
func (s *Store) ListArchives(ctx context.Context) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cacheGet(nsArchives, "all"); ok {
		return v.([]models.LedgerEntry), nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT archive_name, kind, processed_at, rows_added, content_hash
		FROM files_processed ORDER BY processed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ArchiveName, &e.Kind, &e.ProcessedAt, &e.RowsAdded, &e.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cachePut(nsArchives, "all", out)
	return out, nil
}

// LatestCoveredDate returns the newest date any ledgered archive covers,
// derived from the archive names, or "" for an empty ledger. An archive that
// yielded zero fund rows still counts as covered, so the scheduler does not
// fetch it again on every run.
func (s *Store) LatestCoveredDate(ctx context.Context) (string, error) {
	entries, err := s.ListArchives(ctx)
	if err != nil {
		return "", err
	}
	var latest string
	for _, e := range entries {
		info, err := parser.ClassifyArchive(e.ArchiveName)
		if err != nil {
			s.log.Warn().Str("archive", e.ArchiveName).Msg("unclassifiable ledger entry")
			continue
		}
		if info.DateTo > latest {
			latest = info.DateTo
		}
	}
	return latest, nil
}

// Forget removes an archive from the ledger so the next run reprocesses it.
func (s *Store) Forget(ctx context.Context, archiveName string) (bool, error) {
	var removed bool
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM files_processed WHERE archive_name = ?`, archiveName)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ledger forget %s: %w", archiveName, err)
	}
	s.invalidate(nsArchives)
	return removed, nil
}
