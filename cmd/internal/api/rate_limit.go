package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultJoinRateEvents = 10
	defaultJoinRateWindow = time.Minute

	// limiterSweepEvery bounds how often idle keys are dropped.
	limiterSweepEvery = 1024
)

// RateLimiter is a per-key sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	calls  int
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultJoinRateEvents
	}
	if window <= 0 {
		window = defaultJoinRateWindow
	}
	return &RateLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event for key at time now is permitted, and if not, how long
// until the oldest event in the window expires.
func (r *RateLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	r.calls++
	if r.calls%limiterSweepEvery == 0 {
		r.sweepLocked(cut)
	}

	events := r.events[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= r.limit {
		r.events[key] = dst
		return false, dst[0].Sub(cut)
	}
	r.events[key] = append(dst, now)
	return true, 0
}

func (r *RateLimiter) sweepLocked(cut time.Time) {
	for key, events := range r.events {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(r.events, key)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many join requests")
}
