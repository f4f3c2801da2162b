package downloader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPinStore(t *testing.T, strict bool) *pinStore {
	t.Helper()
	ps, err := newPinStore(t.TempDir(), 7, strict, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

func TestObserveNewHostPins(t *testing.T) {
	t.Parallel()
	ps := newTestPinStore(t, true)

	if err := ps.observe("bvmf.example", "aaa111"); err != nil {
		t.Fatalf("first observation must pin, got %v", err)
	}
	// Same fingerprint keeps working, even strict.
	if err := ps.observe("bvmf.example", "aaa111"); err != nil {
		t.Fatalf("matching fingerprint rejected: %v", err)
	}

	// Pin survives a reload from disk.
	ps2, err := newPinStore(ps.dir, 7, true, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := ps2.pins["bvmf.example"].Fingerprint; got != "aaa111" {
		t.Fatalf("reloaded pin = %q", got)
	}
}

func TestObserveMismatch(t *testing.T) {
	t.Parallel()

	t.Run("warn mode continues", func(t *testing.T) {
		t.Parallel()
		ps := newTestPinStore(t, false)
		ps.observe("bvmf.example", "aaa111")
		if err := ps.observe("bvmf.example", "bbb222"); err != nil {
			t.Fatalf("non-strict mismatch must not error: %v", err)
		}
		// Pin stays on the original fingerprint.
		if got := ps.pins["bvmf.example"].Fingerprint; got != "aaa111" {
			t.Fatalf("pin = %q, mismatch should not replace a fresh pin", got)
		}
	})

	t.Run("strict mode aborts", func(t *testing.T) {
		t.Parallel()
		ps := newTestPinStore(t, true)
		ps.observe("bvmf.example", "aaa111")
		err := ps.observe("bvmf.example", "bbb222")
		if !errors.Is(err, ErrPinMismatch) {
			t.Fatalf("err = %v, want ErrPinMismatch", err)
		}
	})
}

func TestObserveRotation(t *testing.T) {
	t.Parallel()
	ps := newTestPinStore(t, true)

	base := time.Now()
	ps.now = func() time.Time { return base }
	ps.observe("bvmf.example", "aaa111")

	// Eight days later the exchange rolled its certificate.
	ps.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	if err := ps.observe("bvmf.example", "ccc333"); err != nil {
		t.Fatalf("rotation past the window must be accepted: %v", err)
	}
	if got := ps.pins["bvmf.example"].Fingerprint; got != "ccc333" {
		t.Fatalf("pin = %q, want rotated fingerprint", got)
	}
}

// Handshakes can overlap when the transport opens parallel connections, so
// observe must tolerate concurrent callers.
func TestObserveConcurrent(t *testing.T) {
	t.Parallel()
	ps := newTestPinStore(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := ps.observe("bvmf.example", "aaa111"); err != nil {
					t.Errorf("observe: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := ps.pins["bvmf.example"].Fingerprint; got != "aaa111" {
		t.Fatalf("pin = %q after concurrent observations", got)
	}
}

func TestFingerprintHistoryAppended(t *testing.T) {
	t.Parallel()
	ps := newTestPinStore(t, false)
	ps.observe("bvmf.example", "aaa111")
	ps.observe("bvmf.example", "aaa111")
	ps.observe("bvmf.example", "bbb222")

	data, err := os.ReadFile(filepath.Join(ps.dir, "fingerprint_history.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("history lines = %d, want every observation recorded", len(lines))
	}
	for _, line := range lines {
		parts := strings.Split(line, ",")
		if len(parts) != 3 || parts[1] != "bvmf.example" {
			t.Fatalf("bad history line %q", line)
		}
	}
}
