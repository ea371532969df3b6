package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/smile-crm/sales-funnel/internal/pkg/httputil"
)

// demoRequestsPerMinute caps the unauthenticated demo endpoint per client IP.
const demoRequestsPerMinute = 5

// RateLimiter is a per-IP sliding-window limiter. It keeps one timestamp
// slice per client and prunes entries older than the window on each hit.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: time.Minute,
		hits:   map[string][]time.Time{},
		now:    time.Now,
	}
}

// Allow records one hit for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rl.limit {
		rl.hits[key] = kept
		return false
	}
	rl.hits[key] = append(kept, rl.now())
	return true
}

// Middleware rejects requests over the limit with a 429. Relies on
// middleware.RealIP having already rewritten RemoteAddr behind proxies.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		if !rl.Allow(key) {
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded, try again in a minute")
			return
		}
		next.ServeHTTP(w, r)
	})
}
