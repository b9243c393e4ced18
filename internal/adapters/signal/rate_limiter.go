package signal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding window limiter keyed by K. A non-positive limit
// disables it.
type RateLimiter[K comparable] struct {
	mu       sync.Mutex
	history  map[K][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter[K comparable](limit int, interval time.Duration) *RateLimiter[K] {
	return &RateLimiter[K]{
		history:  make(map[K][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter[K]) Allow(key K) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}
	rl.history[key] = append(fresh, now)
	return true
}

func (rl *RateLimiter[K]) Forget(key K) {
	rl.mu.Lock()
	delete(rl.history, key)
	rl.mu.Unlock()
}
