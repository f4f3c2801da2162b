// Package parser decodes the B3 COTAHIST fixed-width record files. Only
// class-01 records (daily quotes) of BDI group 12 (real-estate funds) are
// emitted; every other line counts toward the skipped tally.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"

	"fiiscan/internal/models"
)

// Record-file layout constants (byte offsets in a class-01 line).
const (
	minLineLen = 245
	chunkLines = 100_000
)

// Result is the outcome of parsing one record file.
type Result struct {
	Quotes  []models.Quote
	Skipped int64
}

// isCandidate reports whether a raw line can possibly be a fund quote:
// class 01 and BDI group 12. Field validation happens later.
func isCandidate(line string) bool {
	return len(line) >= minLineLen &&
		line[0:2] == "01" &&
		strings.TrimSpace(line[10:12]) == "12"
}

// parseMoney reads a fixed-width integer field carrying an implied two
// decimal places. Empty fields read as zero.
func parseMoney(field string) (float64, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return decimal.New(n, -2).InexactFloat64(), nil
}

func parseInt(field string) (int64, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ParseLine decodes one candidate line into a Quote. The boolean is false
// when the line is not a fund quote or any field is malformed.
func ParseLine(line string) (models.Quote, bool) {
	if !isCandidate(line) {
		return models.Quote{}, false
	}

	d, err := time.Parse("20060102", line[2:10])
	if err != nil {
		return models.Quote{}, false
	}

	ticker := strings.TrimSpace(line[12:24])
	if ticker == "" {
		return models.Quote{}, false
	}

	open, err := parseMoney(line[56:69])
	if err != nil {
		return models.Quote{}, false
	}
	high, err := parseMoney(line[69:82])
	if err != nil {
		return models.Quote{}, false
	}
	low, err := parseMoney(line[82:95])
	if err != nil {
		return models.Quote{}, false
	}
	close_, err := parseMoney(line[108:121])
	if err != nil {
		return models.Quote{}, false
	}
	trades, err := parseInt(line[147:152])
	if err != nil {
		return models.Quote{}, false
	}
	quantity, err := parseInt(line[152:170])
	if err != nil {
		return models.Quote{}, false
	}
	volume, err := parseMoney(line[170:188])
	if err != nil {
		return models.Quote{}, false
	}

	return models.Quote{
		Date:       d.Format("2006-01-02"),
		Ticker:     ticker,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close_,
		Volume:     volume,
		TradeCount: trades,
		Quantity:   quantity,
	}, true
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(r))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}

// ParseFile reads one record file sequentially.
func ParseFile(r io.Reader) (Result, error) {
	var res Result
	sc := newScanner(r)
	for sc.Scan() {
		q, ok := ParseLine(sc.Text())
		if !ok {
			res.Skipped++
			continue
		}
		res.Quotes = append(res.Quotes, q)
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("scan record file: %w", err)
	}
	return res, nil
}

// ParseFileParallel reads one record file splitting candidate lines into
// chunks parsed by a worker pool. Non-candidate lines are skipped during the
// scan; output order matches file order. workers <= 0 selects NumCPU-1.
func ParseFileParallel(r io.Reader, workers int) (Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}

	var res Result
	var chunks [][]string

	sc := newScanner(r)
	current := make([]string, 0, chunkLines)
	for sc.Scan() {
		line := sc.Text()
		if !isCandidate(line) {
			res.Skipped++
			continue
		}
		current = append(current, line)
		if len(current) == chunkLines {
			chunks = append(chunks, current)
			current = make([]string, 0, chunkLines)
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("scan record file: %w", err)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	type chunkResult struct {
		quotes  []models.Quote
		skipped int64
	}
	results := make([]chunkResult, len(chunks))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			out := make([]models.Quote, 0, len(chunk))
			var skipped int64
			for _, line := range chunk {
				q, ok := ParseLine(line)
				if !ok {
					skipped++
					continue
				}
				out = append(out, q)
			}
			results[i] = chunkResult{quotes: out, skipped: skipped}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	for _, cr := range results {
		res.Quotes = append(res.Quotes, cr.quotes...)
		res.Skipped += cr.skipped
	}
	return res, nil
}
