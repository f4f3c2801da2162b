package store

import (
	"context"
	"database/sql"
	"fmt"

	"fiiscan/internal/models"
)

// Cache namespaces owned by the quote methods. nsAdjusted belongs to the
// API layer but is fed from quote and event rows, so mutations here drop it
// too.
const (
	nsLatestDate  = "latest_date"
	nsStats       = "stats"
	nsListTickers = "list_tickers"
	nsAdjusted    = "adjusted"
)

// approximate on-wire size of one quote row, used to size insert batches
const approxRowBytes = 80

// loteSize picks how many rows go in one INSERT batch: small datasets use
// the small lote, larger ones step up to medium and large. The result is
// capped so one batch never exceeds LoteMaxBytes of estimated payload.
func (s *Store) loteSize(n int) int {
	var lote int
	switch {
	case n <= s.opts.LoteMedium:
		lote = s.opts.LoteSmall
	case n <= s.opts.LoteLarge:
		lote = s.opts.LoteMedium
	default:
		lote = s.opts.LoteLarge
	}
	if limit := s.opts.LoteMaxBytes / approxRowBytes; limit > 0 && lote > limit {
		lote = limit
	}
	return lote
}

// BulkInsert writes quotes with INSERT OR IGNORE in batches and returns the
// number of rows actually inserted. Rows already present (same date+ticker)
// are left untouched.
func (s *Store) BulkInsert(ctx context.Context, quotes []models.Quote) (int64, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	lote := s.loteSize(len(quotes))
	var inserted int64

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withRetry(ctx, func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin bulk insert: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO quotes
				(date, ticker, open, high, low, close, volume, trade_count, quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare bulk insert: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < len(quotes); i += lote {
			end := i + lote
			if end > len(quotes) {
				end = len(quotes)
			}
			for _, q := range quotes[i:end] {
				res, err := stmt.ExecContext(ctx,
					q.Date, q.Ticker, q.Open, q.High, q.Low, q.Close,
					q.Volume, q.TradeCount, q.Quantity)
				if err != nil {
					return fmt.Errorf("insert quote %s/%s: %w", q.Date, q.Ticker, err)
				}
				n, _ := res.RowsAffected()
				inserted += n
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	s.invalidate(nsLatestDate, nsStats, nsListTickers, nsAdjusted)
	s.log.Debug().Int("received", len(quotes)).Int64("inserted", inserted).Msg("bulk insert done")
	return inserted, nil
}

// DeleteRange removes all quotes with from <= date <= to and returns the
// number of rows removed.
func (s *Store) DeleteRange(ctx context.Context, from, to string) (int64, error) {
	var deleted int64
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM quotes WHERE date >= ? AND date <= ?`, from, to)
		if err != nil {
			return fmt.Errorf("delete range %s..%s: %w", from, to, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(nsLatestDate, nsStats, nsListTickers, nsAdjusted)
	return deleted, nil
}

// LatestDate returns the maximum quote date, or "" on an empty table.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cacheGet(nsLatestDate, "max"); ok {
		return v.(string), nil
	}
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM quotes`).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("query latest date: %w", err)
	}
	s.cachePut(nsLatestDate, "max", latest.String)
	return latest.String, nil
}

// ListTickers returns all distinct tickers in ascending order.
func (s *Store) ListTickers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cacheGet(nsListTickers, "all"); ok {
		return v.([]string), nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM quotes ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("query tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cachePut(nsListTickers, "all", out)
	return out, nil
}

// Stats summarizes the quotes table.
func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cacheGet(nsStats, "summary"); ok {
		return v.(models.StoreStats), nil
	}
	var st models.StoreStats
	var dmin, dmax sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(date), MAX(date) FROM quotes`).
		Scan(&st.Rows, &st.Tickers, &dmin, &dmax)
	if err != nil {
		return models.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}
	st.DateMin, st.DateMax = dmin.String, dmax.String
	s.cachePut(nsStats, "summary", st)
	return st, nil
}

// Query returns the raw series of one ticker, ascending by date. Empty from
// or to leaves that bound open.
func (s *Store) Query(ctx context.Context, ticker, from, to string) ([]models.Quote, error) {
	q := `SELECT date, ticker, open, high, low, close, volume, trade_count, quantity
		FROM quotes WHERE ticker = ?`
	args := []any{ticker}
	if from != "" {
		q += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		q += ` AND date <= ?`
		args = append(args, to)
	}
	q += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query series %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []models.Quote
	for rows.Next() {
		var r models.Quote
		if err := rows.Scan(&r.Date, &r.Ticker, &r.Open, &r.High, &r.Low,
			&r.Close, &r.Volume, &r.TradeCount, &r.Quantity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) cacheGet(ns, key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ns, key)
}

func (s *Store) cachePut(ns, key string, v any) {
	if s.cache != nil {
		s.cache.Put(ns, key, v)
	}
}
