package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"fiiscan/internal/models"
)

const nsEvents = "events"

// ValidateEvent normalizes and checks one corporate action. The ticker is
// uppercased in place.
func ValidateEvent(e *models.CorporateAction) error {
	e.Ticker = strings.ToUpper(strings.TrimSpace(e.Ticker))
	if e.Ticker == "" {
		return errors.New("event: empty ticker")
	}
	if _, err := time.Parse("2006-01-02", e.EffectiveDate); err != nil {
		return fmt.Errorf("event %s: bad effective_date %q", e.Ticker, e.EffectiveDate)
	}
	if e.Kind != models.ActionSplit && e.Kind != models.ActionReverseSplit {
		return fmt.Errorf("event %s: unknown kind %q", e.Ticker, e.Kind)
	}
	if !(e.Factor > 0) || math.IsInf(e.Factor, 0) || math.IsNaN(e.Factor) {
		return fmt.Errorf("event %s: factor must be > 0, got %v", e.Ticker, e.Factor)
	}
	return nil
}

// AddEvent validates and inserts one corporate action. Inserting the exact
// same (ticker, date, kind) again fails on the primary key.
func (s *Store) AddEvent(ctx context.Context, e models.CorporateAction) error {
	if err := ValidateEvent(&e); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO corporate_actions (ticker, effective_date, kind, factor, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,
			e.Ticker, e.EffectiveDate, e.Kind, e.Factor, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("add event %s/%s: %w", e.Ticker, e.EffectiveDate, err)
	}
	s.invalidate(nsEvents, nsAdjusted)
	return nil
}

// UpdateFactor changes the factor of an existing event.
func (s *Store) UpdateFactor(ctx context.Context, ticker, effectiveDate, kind string, factor float64) error {
	if !(factor > 0) {
		return fmt.Errorf("update event: factor must be > 0, got %v", factor)
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE corporate_actions SET factor = ?
			WHERE ticker = ? AND effective_date = ? AND kind = ?`,
			factor, ticker, effectiveDate, kind)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("event %s/%s/%s not found", ticker, effectiveDate, kind)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	s.invalidate(nsEvents, nsAdjusted)
	return nil
}

// DeleteEvent removes one event, reporting whether it existed.
func (s *Store) DeleteEvent(ctx context.Context, ticker, effectiveDate, kind string) (bool, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var removed bool
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM corporate_actions
			WHERE ticker = ? AND effective_date = ? AND kind = ?`,
			ticker, effectiveDate, kind)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	s.invalidate(nsEvents, nsAdjusted)
	return removed, nil
}

// ListEvents returns corporate actions ordered by effective date. Empty
// filters leave that dimension open.
func (s *Store) ListEvents(ctx context.Context, ticker, from, to string) ([]models.CorporateAction, error) {
	key := ticker + "|" + from + "|" + to
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cacheGet(nsEvents, key); ok {
		return v.([]models.CorporateAction), nil
	}

	q := `SELECT ticker, effective_date, kind, factor, recorded_at
		FROM corporate_actions WHERE 1=1`
	var args []any
	if ticker != "" {
		q += ` AND ticker = ?`
		args = append(args, strings.ToUpper(strings.TrimSpace(ticker)))
	}
	if from != "" {
		q += ` AND effective_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		q += ` AND effective_date <= ?`
		args = append(args, to)
	}
	q += ` ORDER BY effective_date, ticker`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.CorporateAction
	for rows.Next() {
		var e models.CorporateAction
		if err := rows.Scan(&e.Ticker, &e.EffectiveDate, &e.Kind, &e.Factor, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cachePut(nsEvents, key, out)
	return out, nil
}

// ImportReport summarizes a bulk event import.
type ImportReport struct {
	Imported   int
	Duplicates int
	Conflicts  []string
	Invalid    []string
}

// ImportEvents loads corporate actions from a JSON array file. Unknown
// fields are rejected; an event identical to a stored one is counted as a
// duplicate; the same key with a different factor is a conflict and is
// skipped, never overwritten.
func (s *Store) ImportEvents(ctx context.Context, path string) (ImportReport, error) {
	var rep ImportReport

	f, err := os.Open(path)
	if err != nil {
		return rep, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var events []models.CorporateAction
	if err := dec.Decode(&events); err != nil {
		return rep, fmt.Errorf("decode events file %s: %w", path, err)
	}

	for _, e := range events {
		if err := ValidateEvent(&e); err != nil {
			rep.Invalid = append(rep.Invalid, err.Error())
			continue
		}

		var stored float64
		err := s.db.QueryRowContext(ctx, `
			SELECT factor FROM corporate_actions
			WHERE ticker = ? AND effective_date = ? AND kind = ?`,
			e.Ticker, e.EffectiveDate, e.Kind).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := s.AddEvent(ctx, e); err != nil {
				return rep, err
			}
			rep.Imported++
		case err != nil:
			return rep, fmt.Errorf("import events: %w", err)
		case math.Abs(stored-e.Factor) < 1e-9:
			rep.Duplicates++
		default:
			rep.Conflicts = append(rep.Conflicts,
				fmt.Sprintf("%s %s %s: stored factor %v, file has %v",
					e.Ticker, e.EffectiveDate, e.Kind, stored, e.Factor))
		}
	}

	s.log.Info().
		Int("imported", rep.Imported).
		Int("duplicates", rep.Duplicates).
		Int("conflicts", len(rep.Conflicts)).
		Int("invalid", len(rep.Invalid)).
		Msg("event import finished")
	return rep, nil
}
