// Package ratelimit implements per-key sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a CheckAndRecord call.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool
	// Limit is the configured maximum number of requests per window.
	Limit int
	// Window is the configured window length.
	Window time.Duration
	// RetryAfter is the time until the oldest in-window entry expires.
	// Only meaningful on rejection.
	RetryAfter time.Duration
}

// Limiter admits at most Limit requests per key within a sliding Window.
// All window math uses the monotonic clock carried by time.Time values;
// wall-clock adjustments do not affect admission decisions.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter creates a limiter admitting limit requests per window.
// A limit of zero rejects every request.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// CheckAndRecord prunes expired entries for the key, then either admits the
// request (recording its timestamp) or rejects it. Atomic per key.
func (l *Limiter) CheckAndRecord(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	bucket := l.buckets[key]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.buckets[key] = kept
		decision := Decision{Allowed: false, Limit: l.limit, Window: l.window}
		if len(kept) > 0 {
			decision.RetryAfter = kept[0].Sub(cutoff)
		}
		return decision
	}

	l.buckets[key] = append(kept, now)
	return Decision{Allowed: true, Limit: l.limit, Window: l.window}
}

// Limit returns the configured per-window maximum.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
