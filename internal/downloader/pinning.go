package downloader

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrPinMismatch is returned in strict mode when a host presents a leaf
// certificate whose fingerprint differs from the stored pin.
var ErrPinMismatch = fmt.Errorf("certificate fingerprint mismatch")

type pinRecord struct {
	Fingerprint string `json:"fingerprint"`
	FirstSeen   string `json:"first_seen"` // RFC3339
}

// pinStore persists one SHA-256 leaf-certificate fingerprint per host under
// cert_dir/pins.json, and appends every observation to
// fingerprint_history.csv for later auditing.
type pinStore struct {
	dir          string
	rotationDays int
	strict       bool
	log          zerolog.Logger
	now          func() time.Time

	// mu guards pins and the files behind it. observe runs inside the TLS
	// handshake and the transport may handshake concurrently.
	mu   sync.Mutex
	pins map[string]pinRecord
}

func newPinStore(dir string, rotationDays int, strict bool, log zerolog.Logger) (*pinStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}
	ps := &pinStore{
		dir:          dir,
		rotationDays: rotationDays,
		strict:       strict,
		log:          log,
		now:          time.Now,
		pins:         make(map[string]pinRecord),
	}
	data, err := os.ReadFile(ps.pinsPath())
	if err == nil {
		if err := json.Unmarshal(data, &ps.pins); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ps.pinsPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return ps, nil
}

func (ps *pinStore) pinsPath() string    { return filepath.Join(ps.dir, "pins.json") }
func (ps *pinStore) historyPath() string { return filepath.Join(ps.dir, "fingerprint_history.csv") }

func (ps *pinStore) save() error {
	data, err := json.MarshalIndent(ps.pins, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ps.pinsPath(), data, 0o644)
}

func (ps *pinStore) appendHistory(host, fingerprint string) {
	f, err := os.OpenFile(ps.historyPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		ps.log.Warn().Err(err).Msg("cannot append fingerprint history")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s,%s,%s\n", ps.now().UTC().Format(time.RFC3339), host, fingerprint)
}

// fingerprint is the lowercase hex SHA-256 of the DER-encoded certificate.
func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// observe records the fingerprint seen for host and decides whether the
// connection may proceed. A changed fingerprint rotates the pin silently
// when the stored one is older than rotationDays; otherwise it is a
// security-channel warning, or an error in strict mode.
func (ps *pinStore) observe(host, fp string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.appendHistory(host, fp)

	stored, ok := ps.pins[host]
	if !ok {
		ps.pins[host] = pinRecord{Fingerprint: fp, FirstSeen: ps.now().UTC().Format(time.RFC3339)}
		if err := ps.save(); err != nil {
			ps.log.Warn().Err(err).Msg("cannot persist pins")
		}
		ps.log.Info().Str("host", host).Str("fingerprint", fp).Msg("certificate pinned")
		return nil
	}
	if stored.Fingerprint == fp {
		return nil
	}

	age := time.Duration(0)
	if first, err := time.Parse(time.RFC3339, stored.FirstSeen); err == nil {
		age = ps.now().Sub(first)
	}
	if age > time.Duration(ps.rotationDays)*24*time.Hour {
		ps.pins[host] = pinRecord{Fingerprint: fp, FirstSeen: ps.now().UTC().Format(time.RFC3339)}
		if err := ps.save(); err != nil {
			ps.log.Warn().Err(err).Msg("cannot persist pins")
		}
		ps.log.Info().Str("host", host).Str("fingerprint", fp).Msg("certificate rotated")
		return nil
	}

	if ps.strict {
		ps.log.Error().Str("host", host).
			Str("stored", stored.Fingerprint).Str("observed", fp).
			Msg("certificate fingerprint mismatch, aborting")
		return fmt.Errorf("%w for %s", ErrPinMismatch, host)
	}
	ps.log.Warn().Str("host", host).
		Str("stored", stored.Fingerprint).Str("observed", fp).
		Msg("certificate fingerprint mismatch")
	return nil
}
