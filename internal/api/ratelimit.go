package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures the per-client throttle on the API surface. An RPS
// of zero or less disables throttling.
type RateLimit struct {
	RPS     float64
	Burst   int
	IdleTTL time.Duration // forget clients idle this long
}

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// visitorLimiter hands out one token bucket per client address. Idle
// clients are swept out at most once a minute, on the request path.
type visitorLimiter struct {
	cfg RateLimit

	mu        sync.Mutex
	visitors  map[string]*visitor
	nextSweep time.Time
}

func newVisitorLimiter(cfg RateLimit) *visitorLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	return &visitorLimiter{cfg: cfg, visitors: make(map[string]*visitor)}
}

func (vl *visitorLimiter) allow(ip string) bool {
	now := time.Now()

	vl.mu.Lock()
	defer vl.mu.Unlock()

	if now.After(vl.nextSweep) {
		for addr, v := range vl.visitors {
			if now.Sub(v.lastSeen) > vl.cfg.IdleTTL {
				delete(vl.visitors, addr)
			}
		}
		vl.nextSweep = now.Add(time.Minute)
	}

	v, ok := vl.visitors[ip]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(rate.Limit(vl.cfg.RPS), vl.cfg.Burst)}
		vl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.bucket.Allow()
}

// limit wraps next with the per-client throttle. /health stays exempt so
// liveness checks keep answering while a client is throttled.
func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller's address, trusting proxy headers when
// present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
