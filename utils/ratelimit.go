package utils

import (
	"context"
	"sync"
	"time"
)

// GlobalKey is the shared inter-source rate-limit key. Extractors acquire
// it in addition to their own source key before every network step.
const GlobalKey = "global"

// RateLimiter enforces a minimum interval between acquisitions of the same
// key. It is safe for concurrent use from multiple extraction units; waiters
// on a key are served in reservation order. Acquire can only delay, never
// fail, apart from context cancellation.
type RateLimiter struct {
	mu        sync.Mutex
	def       time.Duration
	intervals map[string]time.Duration
	next      map[string]time.Time // earliest start for the next acquisition
}

// NewRateLimiter creates a limiter with the given default minimum interval.
// A zero interval makes Acquire a no-op, which tests rely on.
func NewRateLimiter(defaultInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		def:       defaultInterval,
		intervals: make(map[string]time.Duration),
		next:      make(map[string]time.Time),
	}
}

// SetInterval overrides the minimum interval for one key.
func (r *RateLimiter) SetInterval(key string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals[key] = d
}

// Acquire blocks until at least the key's minimum interval has elapsed since
// the previous acquisition of that key, or until ctx is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context, key string) error {
	r.mu.Lock()
	interval, ok := r.intervals[key]
	if !ok {
		interval = r.def
	}
	now := time.Now()
	slot := r.next[key]
	if slot.Before(now) {
		slot = now
	}
	r.next[key] = slot.Add(interval)
	r.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireSource acquires the global inter-source key and then the source's
// own key, spacing requests both across and within sources.
func (r *RateLimiter) AcquireSource(ctx context.Context, source string) error {
	if err := r.Acquire(ctx, GlobalKey); err != nil {
		return err
	}
	return r.Acquire(ctx, source)
}
