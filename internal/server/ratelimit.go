package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Verification requests fan out to Google; each client IP gets this many
// per window.
const (
	verifyRateLimit  = 30
	verifyRateWindow = time.Minute
	sweepEvery       = 256
)

// rateLimiter is a sliding-window limiter keyed by client IP. Idle entries
// are swept on the request path so no goroutine outlives a serverless
// invocation.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
	calls   int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// allow records a hit for key and reports whether it is within the limit.
// When denied, retryAfter is the time until the oldest hit leaves the window.
func (rl *rateLimiter) allow(key string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	rl.calls++
	if rl.calls%sweepEvery == 0 {
		rl.sweep(cutoff)
	}

	hits := rl.clients[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= rl.limit {
		rl.clients[key] = hits
		return false, hits[0].Sub(cutoff)
	}
	rl.clients[key] = append(hits, now)
	return true, 0
}

func (rl *rateLimiter) sweep(cutoff time.Time) {
	for key, hits := range rl.clients {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(rl.clients, key)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := rl.allow(clientIP(r))
		if !ok {
			secs := int(retry.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody("Too many requests, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
