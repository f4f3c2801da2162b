package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fiiscan/internal/adjust"
)

const nsAdjusted = "adjusted"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stats query failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store": st,
		"cache": s.cache.AllStats(),
	})
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.store.ListTickers(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("ticker query failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickers": tickers, "count": len(tickers)})
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(mux.Vars(r)["ticker"])
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if (from != "" && !validDate(from)) || (to != "" && !validDate(to)) {
		writeError(w, http.StatusBadRequest, "from/to must be YYYY-MM-DD")
		return
	}

	rows, err := s.store.Query(r.Context(), ticker, from, to)
	if err != nil {
		s.log.Error().Err(err).Str("ticker", ticker).Msg("series query failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no quotes for "+ticker)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticker": ticker, "rows": rows})
}

func (s *Server) handleAdjusted(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("funds")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "funds parameter required, e.g. funds=OLD11,NEW11")
		return
	}
	var spec adjust.SeriesSpec
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			writeError(w, http.StatusBadRequest, "empty ticker in funds parameter")
			return
		}
		spec = append(spec, t)
	}

	key := strings.Join(spec, ",")
	if v, ok := s.cache.Get(nsAdjusted, key); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}

	rows, err := s.engine.AdjustedSeries(r.Context(), spec)
	if err != nil {
		s.log.Error().Err(err).Str("spec", key).Msg("adjustment failed")
		writeError(w, http.StatusInternalServerError, "adjustment failed")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no quotes for "+key)
		return
	}

	resp := map[string]any{"ticker": spec.Terminal(), "rows": rows}
	s.cache.Put(nsAdjusted, key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.store.ListArchives(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("ledger query failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": archives, "count": len(archives)})
}
