package downloader

import (
	"testing"
	"time"

	"fiiscan/internal/calendar"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDailyArchiveName(t *testing.T) {
	t.Parallel()
	if got := DailyArchiveName(day("2024-01-08")); got != "COTAHIST_D08012024.ZIP" {
		t.Fatalf("name = %q", got)
	}
	if got := YearlyArchiveName(2023); got != "COTAHIST_A2023.ZIP" {
		t.Fatalf("name = %q", got)
	}
}

func TestMissingDays(t *testing.T) {
	t.Parallel()
	var cal calendar.Weekday

	// Thursday 2024-01-04 last ingested, Tuesday 2024-01-09 today:
	// Friday 5th, Monday 8th, Tuesday 9th; weekend skipped.
	days, err := MissingDays("2024-01-04", day("2024-01-09"), cal)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-05", "2024-01-08", "2024-01-09"}
	if len(days) != len(want) {
		t.Fatalf("days = %v, want %v", days, want)
	}
	for i, d := range days {
		if d.Format("2006-01-02") != want[i] {
			t.Fatalf("days[%d] = %s, want %s", i, d.Format("2006-01-02"), want[i])
		}
	}
}

func TestMissingDaysUpToDate(t *testing.T) {
	t.Parallel()
	days, err := MissingDays("2024-01-09", day("2024-01-09"), calendar.Weekday{})
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 0 {
		t.Fatalf("nothing should be missing, got %v", days)
	}
}

func TestMissingDaysEmptyLedger(t *testing.T) {
	t.Parallel()
	days, err := MissingDays("", day("2024-01-09"), calendar.Weekday{})
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 || days[0].Format("2006-01-02") != "2024-01-09" {
		t.Fatalf("empty ledger should yield only today, got %v", days)
	}
}

func TestMissingDaysWeekendToday(t *testing.T) {
	t.Parallel()
	// Saturday: today itself is not a trading day.
	days, err := MissingDays("2024-01-05", day("2024-01-06"), calendar.Weekday{})
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 0 {
		t.Fatalf("days = %v, want none", days)
	}
}

func TestMissingDaysBadLedgerDate(t *testing.T) {
	t.Parallel()
	if _, err := MissingDays("nonsense", day("2024-01-09"), calendar.Weekday{}); err == nil {
		t.Fatalf("bad ledger date should error")
	}
}
