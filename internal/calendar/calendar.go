// Package calendar abstracts the trading-day oracle used when deciding which
// daily archives to fetch. The exchange publishes no archive on non-trading
// days, so asking for them would only produce 404 noise.
package calendar

import "time"

// Calendar answers whether the exchange traded on a given day.
type Calendar interface {
	IsTradingDay(t time.Time) bool
}

// Weekday is the default oracle: Monday through Friday. It knows nothing
// about exchange holidays; a holiday simply resolves to a not-yet-published
// archive downstream.
type Weekday struct{}

func (Weekday) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// Func adapts a plain function to the Calendar interface.
type Func func(time.Time) bool

func (f Func) IsTradingDay(t time.Time) bool { return f(t) }

// TradingDaysBetween lists the trading days in [from, to], inclusive on both
// ends.
func TradingDaysBetween(cal Calendar, from, to time.Time) []time.Time {
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if cal.IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}
