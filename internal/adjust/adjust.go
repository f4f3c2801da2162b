// Package adjust merges renamed-ticker histories into one series and applies
// corporate-action back-adjustment, so a fund's chart is continuous across
// splits and symbol changes.
package adjust

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"fiiscan/internal/models"
)

// Row is one adjusted observation. Quantity is a float because a
// back-adjusted share count is generally fractional.
type Row struct {
	Date       string  `json:"date"`
	Ticker     string  `json:"ticker"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	TradeCount int64   `json:"trade_count"`
	Quantity   float64 `json:"quantity"`
}

// QuoteSource is the slice of the store the engine reads quotes through.
type QuoteSource interface {
	Query(ctx context.Context, ticker, from, to string) ([]models.Quote, error)
}

// EventSource yields corporate actions for one ticker.
type EventSource interface {
	ListEvents(ctx context.Context, ticker, from, to string) ([]models.CorporateAction, error)
}

// Engine builds adjusted series out of raw quotes and corporate actions.
type Engine struct {
	quotes QuoteSource
	events EventSource
	log    zerolog.Logger
}

func New(quotes QuoteSource, events EventSource, log zerolog.Logger) *Engine {
	return &Engine{quotes: quotes, events: events, log: log}
}

// Merged returns the raw concatenated series of a rename chain, ascending by
// date and labelled with the terminal ticker. Rename windows are expected
// disjoint; should the same date appear under two symbols, the later symbol
// in the chain wins.
func (e *Engine) Merged(ctx context.Context, spec SeriesSpec) ([]Row, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("empty series spec")
	}

	byDate := make(map[string]models.Quote)
	for _, ticker := range spec {
		quotes, err := e.quotes.Query(ctx, ticker, "", "")
		if err != nil {
			return nil, fmt.Errorf("merge %v: %w", spec, err)
		}
		for _, q := range quotes {
			if _, dup := byDate[q.Date]; dup {
				e.log.Warn().Str("date", q.Date).Str("ticker", ticker).
					Msg("overlapping rename windows, later ticker wins")
			}
			byDate[q.Date] = q
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	terminal := spec.Terminal()
	rows := make([]Row, 0, len(dates))
	for _, d := range dates {
		q := byDate[d]
		rows = append(rows, Row{
			Date: q.Date, Ticker: terminal,
			Open: q.Open, High: q.High, Low: q.Low, Close: q.Close,
			Volume: q.Volume, TradeCount: q.TradeCount, Quantity: float64(q.Quantity),
		})
	}
	return rows, nil
}

// AdjustedSeries returns the back-adjusted series for one rename chain. The
// most recent row is untouched; walking backwards, crossing a corporate
// action's effective date scales every earlier row so the series reads
// continuously in post-event units.
func (e *Engine) AdjustedSeries(ctx context.Context, spec SeriesSpec) ([]Row, error) {
	rows, err := e.Merged(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}

	var actions []models.CorporateAction
	for _, ticker := range spec {
		evs, err := e.events.ListEvents(ctx, ticker, "", "")
		if err != nil {
			return nil, fmt.Errorf("events for %s: %w", ticker, err)
		}
		actions = append(actions, evs...)
	}
	if len(actions) == 0 {
		return rows, nil
	}
	// Walk newest-first alongside the rows.
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].EffectiveDate > actions[j].EffectiveDate
	})

	factor := 1.0
	next := 0
	for i := len(rows) - 1; i >= 0; i-- {
		for next < len(actions) && rows[i].Date < actions[next].EffectiveDate {
			switch actions[next].Kind {
			case models.ActionSplit:
				factor *= actions[next].Factor
			case models.ActionReverseSplit:
				factor /= actions[next].Factor
			}
			next++
		}
		if factor != 1.0 {
			rows[i].Open /= factor
			rows[i].High /= factor
			rows[i].Low /= factor
			rows[i].Close /= factor
			rows[i].Volume *= factor
			rows[i].Quantity *= factor
		}
	}
	return rows, nil
}
