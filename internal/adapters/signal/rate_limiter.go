package signal

import (
	"sync"
	"time"

	"github.com/ucsaes/MSH-mock/internal/domain"
)

const (
	DefaultRateLimit    = 200
	DefaultRateInterval = time.Second
)

// RateLimiter is a sliding-window limiter per client.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ClientID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if interval <= 0 {
		interval = DefaultRateInterval
	}
	return &RateLimiter{
		history:  make(map[domain.ClientID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(id domain.ClientID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a departed client.
func (rl *RateLimiter) Forget(id domain.ClientID) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
