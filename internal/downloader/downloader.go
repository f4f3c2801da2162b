// Package downloader fetches COTAHIST archives from the exchange over a
// pinned TLS connection, with polite pacing and retry on transient failures.
package downloader

import (
	"archive/zip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel outcomes callers branch on with errors.Is.
var (
	// ErrNotYetPublished: the exchange has no archive under that name (HTTP
	// 404 on the pre-check). Not retried: the file will appear when it
	// appears.
	ErrNotYetPublished = errors.New("archive not yet published")
	// ErrBadArchive: the body downloaded fine but is not a usable ZIP.
	ErrBadArchive = errors.New("downloaded archive is not a valid zip")
)

// Config carries the downloader knobs, normally filled from config.Config.
type Config struct {
	BaseURL         string
	UserAgent       string
	MaxRetries      int
	BackoffFactor   float64
	WaitMin         float64 // seconds
	WaitMax         float64 // seconds
	CertDir         string
	RotationDays    int
	PinStrict       bool
	MinArchiveBytes int64
}

// Downloader is safe for sequential use; the pipeline fetches one archive at
// a time on purpose (the exchange dislikes bursts).
type Downloader struct {
	cfg    Config
	client *http.Client
	pins   *pinStore
	log    zerolog.Logger

	sleep func(time.Duration)
	randf func() float64
}

// New builds a Downloader whose TLS layer records and checks leaf
// certificate fingerprints through the pin store at cfg.CertDir.
func New(cfg Config, log zerolog.Logger) (*Downloader, error) {
	pins, err := newPinStore(cfg.CertDir, cfg.RotationDays, cfg.PinStrict, log)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("no peer certificate")
			}
			return pins.observe(cs.ServerName, fingerprint(cs.PeerCertificates[0]))
		},
	}
	transport := &http.Transport{TLSClientConfig: tlsCfg}

	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: 5 * time.Minute},
		pins:   pins,
		log:    log,
		sleep:  time.Sleep,
		randf:  rand.Float64,
	}, nil
}

func (d *Downloader) archiveURL(name string) (string, error) {
	return url.JoinPath(d.cfg.BaseURL, name)
}

// politeness pauses a uniform random interval inside the configured window
// before touching the exchange.
func (d *Downloader) politeness() {
	window := d.cfg.WaitMax - d.cfg.WaitMin
	secs := d.cfg.WaitMin + d.randf()*window
	d.sleep(time.Duration(secs * float64(time.Second)))
}

func (d *Downloader) backoff(attempt int) time.Duration {
	secs := math.Pow(d.cfg.BackoffFactor, float64(attempt))
	return time.Duration(secs * float64(time.Second))
}

// Fetch downloads archiveName into destDir and returns the saved path.
// A 404 on the pre-check returns ErrNotYetPublished immediately; transient
// failures are retried MaxRetries times with exponential backoff.
func (d *Downloader) Fetch(ctx context.Context, archiveName, destDir string) (string, error) {
	u, err := d.archiveURL(archiveName)
	if err != nil {
		return "", fmt.Errorf("build url for %s: %w", archiveName, err)
	}

	d.politeness()

	published, err := d.headCheck(ctx, u)
	if err != nil {
		return "", err
	}
	if !published {
		d.log.Info().Str("archive", archiveName).Msg("not yet published")
		return "", fmt.Errorf("%s: %w", archiveName, ErrNotYetPublished)
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff(attempt)
			d.log.Warn().Str("archive", archiveName).Int("attempt", attempt).
				Dur("delay", delay).Err(lastErr).Msg("retrying download")
			if err := ctx.Err(); err != nil {
				return "", err
			}
			d.sleep(delay)
		}

		path, err := d.download(ctx, u, archiveName, destDir)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, ErrBadArchive) || errors.Is(err, ErrPinMismatch) || errors.Is(err, context.Canceled) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("download %s failed after %d retries: %w",
		archiveName, d.cfg.MaxRetries, lastErr)
}

// headCheck asks whether the archive exists before committing to a GET.
// Only a clean 404 means "not published"; HEAD errors are ignored so a
// misbehaving HEAD endpoint cannot block downloads.
func (d *Downloader) headCheck(ctx context.Context, u string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrPinMismatch) || errors.Is(err, context.Canceled) {
			return false, err
		}
		return true, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode != http.StatusNotFound, nil
}

func (d *Downloader) download(ctx context.Context, u, archiveName, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", archiveName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: unexpected status %d", archiveName, resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(destDir, archiveName+".part*")
	if err != nil {
		return "", err
	}
	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if err == nil {
			err = closeErr
		}
		return "", fmt.Errorf("save %s: %w", archiveName, err)
	}

	if err := d.verifyZip(tmp.Name(), archiveName, written); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	final := filepath.Join(destDir, archiveName)
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	d.log.Info().Str("archive", archiveName).Int64("bytes", written).Msg("downloaded")
	return final, nil
}

// verifyZip rejects bodies that are not openable ZIPs with at least one
// member. A suspiciously small but valid archive is only logged.
func (d *Downloader) verifyZip(path, archiveName string, size int64) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%s: %w", archiveName, ErrBadArchive)
	}
	defer zr.Close()
	if len(zr.File) == 0 {
		return fmt.Errorf("%s has no members: %w", archiveName, ErrBadArchive)
	}
	if d.cfg.MinArchiveBytes > 0 && size < d.cfg.MinArchiveBytes {
		d.log.Warn().Str("archive", archiveName).Int64("bytes", size).
			Msg("archive smaller than expected")
	}
	return nil
}
