package downloader

import (
	"fmt"
	"time"

	"fiiscan/internal/calendar"
)

// DailyArchiveName renders the exchange's file name for one trading day.
func DailyArchiveName(t time.Time) string {
	return fmt.Sprintf("COTAHIST_D%02d%02d%04d.ZIP", t.Day(), int(t.Month()), t.Year())
}

// YearlyArchiveName renders the consolidated archive name for a year.
func YearlyArchiveName(year int) string {
	return fmt.Sprintf("COTAHIST_A%04d.ZIP", year)
}

// MissingDays lists the trading days strictly after ledgerMax (ISO date, ""
// meaning "nothing ingested yet") up to and including today. With an empty
// ledger only today is considered; backfilling history goes through the
// yearly archives instead of thousands of daily ones.
func MissingDays(ledgerMax string, today time.Time, cal calendar.Calendar) ([]time.Time, error) {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	start := today
	if ledgerMax != "" {
		last, err := time.Parse("2006-01-02", ledgerMax)
		if err != nil {
			return nil, fmt.Errorf("bad ledger date %q: %w", ledgerMax, err)
		}
		start = last.AddDate(0, 0, 1)
	}

	return calendar.TradingDaysBetween(cal, start, today), nil
}
