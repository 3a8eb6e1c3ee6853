package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"apikit/internal/store"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// LimitKey identifies one fixed-window counter.
type LimitKey struct {
	// Subject is the access token row id, or a digest of the credential
	// when no token row backs it.
	Subject string
	Method  string
}

func (k LimitKey) String() string {
	return k.Subject + ":" + k.Method
}

// Limiter counts calls per key within a window. src is the store the
// request runs against; backends that keep their own state ignore it.
type Limiter interface {
	Allow(ctx context.Context, src store.Source, key LimitKey, limit int, window time.Duration) (Decision, error)
}

// CheckRateLimit counts one call of method by the holder of credential and
// reports whether it stays within limit for the current window. Without a
// configured limiter every call is allowed.
func (s *Service) CheckRateLimit(ctx context.Context, src store.Source, method, credential string, limit int) (Decision, error) {
	if s.limiter == nil || limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	subject, err := s.subject(ctx, src, credential)
	if err != nil {
		return Decision{}, err
	}
	key := LimitKey{Subject: subject, Method: method}
	decision, err := s.limiter.Allow(ctx, src, key, limit, s.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", method, err)
	}
	if !decision.Allowed {
		s.logger.DebugContext(ctx, "rate limit exceeded", "method", method, "subject", subject, "retry_after", decision.RetryAfter)
	}
	return decision, nil
}

func (s *Service) subject(ctx context.Context, src store.Source, credential string) (string, error) {
	if entry, ok := s.cache.Get(credential); ok {
		return strconv.FormatInt(entry.TokenID, 10), nil
	}
	row, err := s.Lookup(ctx, src, credential)
	if err != nil {
		return "", err
	}
	if id, ok := row.ID(); ok && !row.IsEmpty() {
		return strconv.FormatInt(id, 10), nil
	}
	hashed, err := hashToken(credential)
	if err != nil {
		return "anonymous", nil
	}
	return "sha256:" + hashed, nil
}

// decide turns a hit count into a Decision for a window ending in remaining.
func decide(limit int, hits int64, remaining time.Duration) Decision {
	d := Decision{Limit: limit, Allowed: hits <= int64(limit)}
	if left := int64(limit) - hits; left > 0 {
		d.Remaining = int(left)
	}
	if !d.Allowed {
		if remaining <= 0 {
			remaining = time.Second
		}
		d.RetryAfter = remaining
	}
	return d
}
