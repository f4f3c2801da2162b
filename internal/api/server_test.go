package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fiiscan/internal/adjust"
	"fiiscan/internal/cache"
	"fiiscan/internal/models"
	"fiiscan/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	c := cache.New(cache.Policy{TTL: time.Minute, MaxEntries: 100}, zerolog.Nop())
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions(), c, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	engine := adjust.New(st, st, zerolog.Nop())
	return NewServer(st, engine, c, RateLimit{}, zerolog.Nop()), st
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	quotes := []models.Quote{
		{Date: "2024-01-08", Ticker: "HGLG11", Open: 149, High: 151, Low: 148, Close: 150, Volume: 1000, TradeCount: 10, Quantity: 50},
		{Date: "2024-01-09", Ticker: "HGLG11", Open: 150, High: 152, Low: 149, Close: 15, Volume: 1000, TradeCount: 10, Quantity: 500},
		{Date: "2024-01-08", Ticker: "KNRI11", Open: 129, High: 131, Low: 128, Close: 130, Volume: 800, TradeCount: 8, Quantity: 40},
	}
	if _, err := st.BulkInsert(ctx, quotes); err != nil {
		t.Fatal(err)
	}
	if err := st.AddEvent(ctx, models.CorporateAction{
		Ticker: "HGLG11", EffectiveDate: "2024-01-09", Kind: models.ActionSplit, Factor: 10,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.Record(ctx, "COTAHIST_D08012024.ZIP", "daily", 3, "abc"); err != nil {
		t.Fatal(err)
	}
}

// get dispatches through the router, skipping the rate limiter, which has
// its own test.
func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("bad JSON %q: %v", rr.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rr := get(t, s, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	seed(t, st)

	rr := get(t, s, "/api/v1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Store models.StoreStats      `json:"store"`
		Cache map[string]cache.Stats `json:"cache"`
	}
	decode(t, rr, &body)
	if body.Store.Rows != 3 || body.Store.Tickers != 2 {
		t.Fatalf("stats = %+v", body.Store)
	}
}

func TestTickersEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	seed(t, st)

	rr := get(t, s, "/api/v1/tickers")
	var body struct {
		Tickers []string `json:"tickers"`
		Count   int      `json:"count"`
	}
	decode(t, rr, &body)
	if body.Count != 2 || body.Tickers[0] != "HGLG11" {
		t.Fatalf("body = %+v", body)
	}
}

func TestSeriesEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	seed(t, st)

	rr := get(t, s, "/api/v1/series/hglg11")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Ticker string         `json:"ticker"`
		Rows   []models.Quote `json:"rows"`
	}
	decode(t, rr, &body)
	if body.Ticker != "HGLG11" || len(body.Rows) != 2 {
		t.Fatalf("body = %+v", body)
	}

	if rr := get(t, s, "/api/v1/series/HGLG11?from=2024-01-09"); rr.Code != http.StatusOK {
		t.Fatalf("bounded status = %d", rr.Code)
	}
	if rr := get(t, s, "/api/v1/series/HGLG11?from=tomorrow"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rr.Code)
	}
	if rr := get(t, s, "/api/v1/series/ZZZZ99"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown ticker status = %d", rr.Code)
	}
}

func TestAdjustedEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	seed(t, st)

	rr := get(t, s, "/api/v1/adjusted?funds=HGLG11")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Ticker string       `json:"ticker"`
		Rows   []adjust.Row `json:"rows"`
	}
	decode(t, rr, &body)
	if len(body.Rows) != 2 {
		t.Fatalf("rows = %+v", body.Rows)
	}
	// The 2024-01-08 close of 150 reads 15 after the 10-for-1 split.
	if body.Rows[0].Close != 15 {
		t.Fatalf("adjusted close = %v, want 15", body.Rows[0].Close)
	}

	if rr := get(t, s, "/api/v1/adjusted"); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing funds status = %d", rr.Code)
	}
	if rr := get(t, s, "/api/v1/adjusted?funds=ZZZZ99"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown funds status = %d", rr.Code)
	}
}

func TestArchivesEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	seed(t, st)

	rr := get(t, s, "/api/v1/archives")
	var body struct {
		Archives []models.LedgerEntry `json:"archives"`
		Count    int                  `json:"count"`
	}
	decode(t, rr, &body)
	if body.Count != 1 || body.Archives[0].ArchiveName != "COTAHIST_D08012024.ZIP" {
		t.Fatalf("body = %+v", body)
	}
}

func rateLimitedServer(t *testing.T, rl RateLimit) *Server {
	t.Helper()
	c := cache.New(cache.Policy{TTL: time.Minute, MaxEntries: 100}, zerolog.Nop())
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions(), c, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewServer(st, adjust.New(st, st, zerolog.Nop()), c, rl, zerolog.Nop())
}

func send(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiting(t *testing.T) {
	t.Parallel()
	s := rateLimitedServer(t, RateLimit{RPS: 1, Burst: 3})
	h := s.Handler()

	// The burst is consumed immediately; the next request is throttled.
	for i := 0; i < 3; i++ {
		if rr := send(h, "/api/v1/stats", "203.0.113.7:4321"); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}
	if rr := send(h, "/api/v1/stats", "203.0.113.7:4321"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over-burst status = %d, want 429", rr.Code)
	}

	// Another client has its own bucket.
	if rr := send(h, "/api/v1/stats", "198.51.100.9:1111"); rr.Code != http.StatusOK {
		t.Fatalf("second client status = %d", rr.Code)
	}

	// Health stays reachable regardless.
	if rr := send(h, "/health", "203.0.113.7:4321"); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestRateLimitingDisabled(t *testing.T) {
	t.Parallel()
	s := rateLimitedServer(t, RateLimit{})
	h := s.Handler()

	for i := 0; i < 40; i++ {
		if rr := send(h, "/api/v1/tickers", "203.0.113.7:4321"); rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled with limiting disabled", i)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		xff, xreal string
		remote     string
		want       string
	}{
		{"remote addr", "", "", "203.0.113.7:4321", "203.0.113.7"},
		{"forwarded for", "198.51.100.9, 10.0.0.1", "", "203.0.113.7:4321", "198.51.100.9"},
		{"real ip", "", "198.51.100.9", "203.0.113.7:4321", "198.51.100.9"},
		{"no port", "", "", "203.0.113.7", "203.0.113.7"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.xreal != "" {
			req.Header.Set("X-Real-IP", tc.xreal)
		}
		if got := clientIP(req); got != tc.want {
			t.Errorf("%s: clientIP = %q, want %q", tc.name, got, tc.want)
		}
	}
}
