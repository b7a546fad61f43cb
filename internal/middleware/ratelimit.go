package middleware

import (
	"net/http"
	"sync"
	"time"

	"waconsole/internal/constants"
	apperrors "waconsole/internal/errors"
	"waconsole/internal/metrics"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

// NewRateLimiter returns nil when rps is not positive, which disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: time.Duration(constants.RateLimiterIdleTTLMinutes) * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.clients[key]
	if !ok {
		rl.pruneLocked(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// pruneLocked drops buckets idle past the TTL so the map stays bounded.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	for key, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware rejects clients over their budget with 429. A nil limiter
// passes every request through. Paths in open are never limited.
func RateLimitMiddleware(rl *RateLimiter, open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil || isOpenPath(r.URL.Path, open) {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(GetClientIP(r)) {
				metrics.IncrementCounter("http_rate_limited_total", nil, "Requests rejected by the per-client rate limit")
				w.Header().Set("Retry-After", "1")
				err := apperrors.New(apperrors.ErrCodeRateLimited, "rate limit exceeded").
					WithUserMessage("Too many requests, slow down")
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
