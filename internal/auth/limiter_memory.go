package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"apikit/internal/store"
)

// MemoryLimiter keeps one token bucket per key in process memory. A bucket
// holds limit tokens and refills at limit per window, so a full window of
// calls is allowed in a burst.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	idle    time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

// NewMemoryLimiter returns an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		idle:    10 * time.Minute,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, _ store.Source, key LimitKey, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key.String()]
	if !ok || b.limit != limit || b.window != window {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
			limit:   limit,
			window:  window,
		}
		l.buckets[key.String()] = b
	}
	b.lastSeen = now
	l.cleanupLocked(now)
	l.mu.Unlock()

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Limit: limit, RetryAfter: window}, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		if delay < time.Second {
			delay = time.Second
		}
		return Decision{Limit: limit, RetryAfter: delay}, nil
	}
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining}, nil
}

func (l *MemoryLimiter) cleanupLocked(now time.Time) {
	for key, b := range l.buckets {
		if idle := now.Sub(b.lastSeen); idle > l.idle && idle > b.window {
			delete(l.buckets, key)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
