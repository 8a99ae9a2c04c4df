package relay

import (
	"sync"
	"time"
)

// RateLimit configures the per-connection chat token bucket. Burst messages
// may be sent at once; the bucket refills Burst tokens every RefillInterval.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// rateLimiter is a token bucket. A zero Burst disables limiting.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

func newRateLimiter(rl RateLimit) *rateLimiter {
	if rl.Burst <= 0 {
		return nil
	}
	interval := rl.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	l := &rateLimiter{
		tokens:   float64(rl.Burst),
		capacity: float64(rl.Burst),
		perSec:   float64(rl.Burst) / interval.Seconds(),
		now:      time.Now,
	}
	l.last = l.now()
	return l
}

// allow consumes one token if available. A nil limiter allows everything.
func (l *rateLimiter) allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+elapsed*l.perSec)
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
