package auth

import (
	"context"
	"fmt"
	"time"

	"apikit/internal/record"
	"apikit/internal/store"
)

// countHit bumps the counter for one key in a single statement, restarting
// the window when the stored one has ended. The UNIQUE (access_token_id,
// method) constraint makes it safe across processes sharing a database.
const countHit = "INSERT INTO `limits` (`access_token_id`, `method`, `window_start`, `hits`) VALUES (?, ?, ?, 1) " +
	"ON CONFLICT (`access_token_id`, `method`) DO UPDATE SET " +
	"`hits` = CASE WHEN `limits`.`window_start` <= ? THEN 1 ELSE `limits`.`hits` + 1 END, " +
	"`window_start` = CASE WHEN `limits`.`window_start` <= ? THEN excluded.`window_start` ELSE `limits`.`window_start` END " +
	"RETURNING `hits`, `window_start`"

// StoreLimiter keeps fixed-window counters in the limits table of the
// request's store.
type StoreLimiter struct {
	now func() time.Time
}

// NewStoreLimiter returns a limiter backed by the limits table.
func NewStoreLimiter() *StoreLimiter {
	return &StoreLimiter{now: time.Now}
}

func (l *StoreLimiter) Allow(ctx context.Context, src store.Source, key LimitKey, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	expired := now.Add(-window).Unix()
	rows, err := src.Query(ctx, countHit, key.Subject, key.Method, now.Unix(), expired, expired)
	if err != nil {
		return Decision{}, fmt.Errorf("count hit: %w", err)
	}
	if len(rows) != 1 {
		return Decision{}, fmt.Errorf("count hit: expected one row, got %d", len(rows))
	}
	hits := asInt(rows[0]["hits"])
	start := time.Unix(asInt(rows[0]["window_start"]), 0)
	return decide(limit, hits, start.Add(window).Sub(now)), nil
}

func asInt(v record.Value) int64 {
	switch n := v.(type) {
	case record.Int:
		return int64(n)
	case record.Float:
		return int64(n)
	default:
		return 0
	}
}

var _ Limiter = (*StoreLimiter)(nil)
