// Package ratelimit throttles clients with a fixed one-minute window.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	windowLength = time.Minute
	staleAfter   = 10 * time.Minute
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// window counts one client's requests since start. Rejected requests are
// counted too but never move start.
type window struct {
	start    time.Time
	lastSeen time.Time
	count    int
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.start) >= windowLength
}

func (w *window) resetsIn(now time.Time) time.Duration {
	return w.start.Add(windowLength).Sub(now)
}

// Limiter tracks a window per client key.
type Limiter struct {
	requestsPerMinute int
	now               func() time.Time
	hits              atomic.Int64

	mu      sync.Mutex
	windows map[string]*window

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a new rate limiter. Call Stop to release the cleanup goroutine.
func NewLimiter(config Config) *Limiter {
	defaults := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	rl := &Limiter{
		requestsPerMinute: config.RequestsPerMinute,
		now:               time.Now,
		windows:           make(map[string]*window),
		stop:              make(chan struct{}),
	}
	go rl.sweep(config.CleanupInterval)
	return rl
}

// Allow reports whether a request from key fits in its current window.
func (rl *Limiter) Allow(key string) bool {
	ok, _ := rl.take(key)
	return ok
}

// take records a request and, when it is rejected, how long until the
// client's window resets.
func (rl *Limiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || w.expired(now) {
		w = &window{start: now}
		rl.windows[key] = w
	}
	w.count++
	w.lastSeen = now

	if w.count <= rl.requestsPerMinute {
		return true, 0
	}
	rl.hits.Add(1)
	return false, w.resetsIn(now)
}

func (rl *Limiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stop:
			return
		}
	}
}

// cleanupStaleEntries forgets clients idle for staleAfter.
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-staleAfter)
	for key, w := range rl.windows {
		if w.lastSeen.Before(cutoff) {
			delete(rl.windows, key)
		}
	}
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Hits returns how many requests were rejected.
func (rl *Limiter) Hits() int64 {
	return rl.hits.Load()
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware rejects requests over the limit, keyed by clientKey. onLimit
// writes the rejection; nil falls back to a plain 429. Retry-After is set
// before onLimit runs.
func (rl *Limiter) Middleware(clientKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	limit := strconv.Itoa(rl.requestsPerMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", limit)

			ok, wait := rl.take(clientKey(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
