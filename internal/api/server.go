// Package api is the read-only HTTP surface over the quote store: summary
// stats, ticker lists, raw and adjusted series, and the ingest ledger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fiiscan/internal/adjust"
	"fiiscan/internal/cache"
	"fiiscan/internal/store"
)

// Server serves the v1 endpoints. All handlers are read-only; mutations go
// through the pipeline and the admin tools.
type Server struct {
	store   *store.Store
	engine  *adjust.Engine
	cache   *cache.Cache
	limiter *visitorLimiter
	log     zerolog.Logger
	router  *mux.Router
	srv     *http.Server
}

func NewServer(st *store.Store, engine *adjust.Engine, c *cache.Cache, rl RateLimit, log zerolog.Logger) *Server {
	s := &Server{store: st, engine: engine, cache: c, log: log, router: mux.NewRouter()}
	if rl.RPS > 0 {
		s.limiter = newVisitorLimiter(rl)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/tickers", s.handleTickers).Methods(http.MethodGet)
	v1.HandleFunc("/series/{ticker}", s.handleSeries).Methods(http.MethodGet)
	v1.HandleFunc("/adjusted", s.handleAdjusted).Methods(http.MethodGet)
	v1.HandleFunc("/archives", s.handleArchives).Methods(http.MethodGet)
}

// Handler exposes the full middleware chain, also used by tests.
func (s *Server) Handler() http.Handler {
	return s.limit(s.router)
}

// Start blocks serving on addr until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("api listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
