// Package ingester orchestrates one pipeline run: hash each staged archive,
// consult the ledger, extract, parse, insert, record. Archives are processed
// one at a time in chronological order; parsing inside an archive fans out
// to a worker pool.
package ingester

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fiiscan/internal/models"
	"fiiscan/internal/parser"
	"fiiscan/internal/store"
)

// Store is the slice of the database the ingester needs.
type Store interface {
	Check(ctx context.Context, archiveName, contentHash string) (store.Verdict, error)
	Record(ctx context.Context, archiveName, kind string, rowsAdded int64, contentHash string) error
	Touch(ctx context.Context, archiveName string) error
	BulkInsert(ctx context.Context, quotes []models.Quote) (int64, error)
	DeleteRange(ctx context.Context, from, to string) (int64, error)
}

// Config tunes one Service. Zero values pick the defaults in New.
type Config struct {
	ExtractRetries    int
	ExtractRetryDelay time.Duration
	Workers           int // parse workers for non-daily archives
}

// Summary is the outcome of one run over a batch of archives.
type Summary struct {
	Attempted    int
	Succeeded    int
	Skipped      int
	Failed       int
	RowsInserted int64
	ParseSkipped int64
}

// Service ingests COTAHIST archives into the store.
type Service struct {
	store Store
	cfg   Config
	log   zerolog.Logger

	sleep func(time.Duration)
}

func New(st Store, cfg Config, log zerolog.Logger) *Service {
	if cfg.ExtractRetries <= 0 {
		cfg.ExtractRetries = 3
	}
	if cfg.ExtractRetryDelay <= 0 {
		cfg.ExtractRetryDelay = 2 * time.Second
	}
	return &Service{store: st, cfg: cfg, log: log, sleep: time.Sleep}
}

// Run discovers COTAHIST archives in dir and ingests them in chronological
// order of their date window. Per-archive failures are logged and counted,
// never propagated.
func (s *Service) Run(ctx context.Context, dir string) (Summary, error) {
	var sum Summary

	archives, err := discover(dir)
	if err != nil {
		return sum, err
	}
	if len(archives) == 0 {
		s.log.Info().Str("dir", dir).Msg("no archives to ingest")
		return sum, nil
	}

	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Attempted++
		rows, parseSkipped, skipped, err := s.ingestOne(ctx, a)
		switch {
		case err != nil:
			sum.Failed++
			s.log.Error().Err(err).Str("archive", a.info.Name).Msg("archive failed")
		case skipped:
			sum.Skipped++
		default:
			sum.Succeeded++
			sum.RowsInserted += rows
			sum.ParseSkipped += parseSkipped
		}
	}

	s.log.Info().
		Int("attempted", sum.Attempted).
		Int("succeeded", sum.Succeeded).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Int64("rows", sum.RowsInserted).
		Msg("ingest run finished")
	return sum, nil
}

type archive struct {
	path string
	info parser.ArchiveInfo
}

func discover(dir string) ([]archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	var out []archive
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToUpper(e.Name()), ".ZIP") {
			continue
		}
		info, err := parser.ClassifyArchive(e.Name())
		if err != nil {
			continue
		}
		out = append(out, archive{path: filepath.Join(dir, e.Name()), info: info})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].info.DateFrom != out[j].info.DateFrom {
			return out[i].info.DateFrom < out[j].info.DateFrom
		}
		return out[i].info.Name < out[j].info.Name
	})
	return out, nil
}

// ingestOne runs steps hash → verdict → extract → parse → insert → record
// for a single archive. The ledger is only written after a fully successful
// insert, so a failed archive is seen again on the next run.
func (s *Service) ingestOne(ctx context.Context, a archive) (rows, parseSkipped int64, skippedUnchanged bool, err error) {
	hash, err := hashFile(a.path)
	if err != nil {
		return 0, 0, false, fmt.Errorf("hash: %w", err)
	}

	verdict, err := s.store.Check(ctx, a.info.Name, hash)
	if err != nil {
		return 0, 0, false, err
	}
	if verdict == store.Unchanged {
		if err := s.store.Touch(ctx, a.info.Name); err != nil {
			return 0, 0, false, err
		}
		s.log.Info().Str("archive", a.info.Name).Msg("unchanged, skipping")
		return 0, 0, true, nil
	}

	txtPath, err := s.extract(a.path)
	if err != nil {
		return 0, 0, false, err
	}
	defer os.Remove(txtPath)

	if verdict == store.Modified {
		deleted, err := s.store.DeleteRange(ctx, a.info.DateFrom, a.info.DateTo)
		if err != nil {
			return 0, 0, false, err
		}
		s.log.Warn().Str("archive", a.info.Name).Int64("deleted", deleted).
			Msg("archive content changed, window reingested")
	}

	res, err := s.parse(a.info, txtPath)
	if err != nil {
		return 0, 0, false, err
	}

	inserted, err := s.store.BulkInsert(ctx, res.Quotes)
	if err != nil {
		return 0, 0, false, err
	}
	if err := s.store.Record(ctx, a.info.Name, a.info.Kind, inserted, hash); err != nil {
		return 0, 0, false, err
	}

	s.log.Info().Str("archive", a.info.Name).
		Int("parsed", len(res.Quotes)).
		Int64("skipped_lines", res.Skipped).
		Int64("inserted", inserted).
		Msg("archive ingested")
	return inserted, res.Skipped, false, nil
}

// extract copies the first member of the ZIP into a temporary text file,
// retrying the configured number of times.
func (s *Service) extract(zipPath string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ExtractRetries; attempt++ {
		path, err := extractOnce(zipPath)
		if err == nil {
			return path, nil
		}
		lastErr = err
		s.log.Warn().Err(err).Str("archive", filepath.Base(zipPath)).
			Int("attempt", attempt).Msg("extraction failed")
		if attempt < s.cfg.ExtractRetries {
			s.sleep(s.cfg.ExtractRetryDelay)
		}
	}
	return "", fmt.Errorf("extract %s: %w", filepath.Base(zipPath), lastErr)
}

func extractOnce(zipPath string) (string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return "", errEmptyArchive
	}
	member, err := zr.File[0].Open()
	if err != nil {
		return "", err
	}
	defer member.Close()

	tmp, err := os.CreateTemp(filepath.Dir(zipPath), "cotahist-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, member); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Service) parse(info parser.ArchiveInfo, txtPath string) (parser.Result, error) {
	f, err := os.Open(txtPath)
	if err != nil {
		return parser.Result{}, err
	}
	defer f.Close()

	// Daily archives are a few thousand lines; the pool only pays off on
	// monthly and yearly files.
	if info.Kind == parser.KindDaily {
		return parser.ParseFile(f)
	}
	return parser.ParseFileParallel(f, s.cfg.Workers)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var errEmptyArchive = errors.New("archive has no members")
