package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/stepguard/server/internal/ratelimit"
	"github.com/stepguard/server/internal/risk"
)

// RateLimiter is an in-memory per-key request throttle. It complements the
// per-account limit kept in the store by capping requests from one client.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. Call Stop to end its cleanup loop.
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.cleanup(time.Hour)

	return rl
}

// Allow checks if a request is allowed for the given key and records it when it is
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	reqs := rl.requests[key]
	if ratelimit.Check(reqs, now, rl.window, rl.maxReqs).Limited {
		rl.requests[key] = ratelimit.Trim(reqs, now, rl.window)
		return false
	}

	rl.requests[key] = ratelimit.Record(reqs, now, rl.window)
	return true
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup periodically removes idle keys to prevent memory leaks
func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, reqs := range rl.requests {
		filtered := ratelimit.Trim(reqs, now, rl.window)
		if len(filtered) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = filtered
		}
	}
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey keys requests by client IP, reading forwarding headers only from proxies
func IPKey(proxies risk.TrustedProxies) func(r *http.Request) string {
	return func(r *http.Request) string {
		return "ip:" + proxies.ClientIP(r)
	}
}
