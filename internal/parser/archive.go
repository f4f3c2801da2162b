package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Archive kinds, matching the files_processed.kind column.
const (
	KindDaily   = "daily"
	KindMonthly = "monthly"
	KindYearly  = "yearly"
)

// ArchiveInfo describes one COTAHIST archive name: its periodicity and the
// calendar window its rows may fall in.
type ArchiveInfo struct {
	Name     string
	Kind     string
	DateFrom string // ISO, inclusive
	DateTo   string // ISO, inclusive
}

var (
	reYearly  = regexp.MustCompile(`^COTAHIST_A(\d{4})\.(TXT|ZIP)$`)
	reDaily   = regexp.MustCompile(`^COTAHIST_D(\d{2})(\d{2})(\d{4})\.(TXT|ZIP)$`)
	reMonthly = regexp.MustCompile(`^COTAHIST_M(\d{2})(\d{4})\.(TXT|ZIP)$`)
)

// ClassifyArchive parses a COTAHIST file name into its kind and date window.
// Daily archives cover a single day, monthly archives the full calendar
// month, yearly archives Jan 1 through Dec 31.
func ClassifyArchive(name string) (ArchiveInfo, error) {
	upper := strings.ToUpper(name)

	if m := reDaily.FindStringSubmatch(upper); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if d.Day() != day || int(d.Month()) != month {
			return ArchiveInfo{}, fmt.Errorf("archive %s: invalid date", name)
		}
		iso := d.Format("2006-01-02")
		return ArchiveInfo{Name: name, Kind: KindDaily, DateFrom: iso, DateTo: iso}, nil
	}

	if m := reMonthly.FindStringSubmatch(upper); m != nil {
		month, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return ArchiveInfo{}, fmt.Errorf("archive %s: invalid month %d", name, month)
		}
		first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		return ArchiveInfo{
			Name:     name,
			Kind:     KindMonthly,
			DateFrom: first.Format("2006-01-02"),
			DateTo:   last.Format("2006-01-02"),
		}, nil
	}

	if m := reYearly.FindStringSubmatch(upper); m != nil {
		year := m[1]
		return ArchiveInfo{
			Name:     name,
			Kind:     KindYearly,
			DateFrom: year + "-01-01",
			DateTo:   year + "-12-31",
		}, nil
	}

	return ArchiveInfo{}, fmt.Errorf("archive %s: unrecognized COTAHIST name", name)
}
