// Package ratelimit provides an in-process fixed-window request counter
// keyed by caller. Each key carries its own limit and window, so callers
// with different quotas share one limiter.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks one fixed window per key.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New returns an empty limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records a hit for key and reports whether it fits within limit
// hits per windowLength. A limit of zero or less disables limiting for
// the key. When the hit is rejected, retry is the time remaining until
// the window resets.
func (l *Limiter) Allow(key string, limit int, windowLength time.Duration) (allowed bool, retry time.Duration) {
	if limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[key]
	if w == nil || !w.resetAt.After(now) {
		w = &window{resetAt: now.Add(windowLength)}
		l.windows[key] = w
	}
	if w.count >= limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}
