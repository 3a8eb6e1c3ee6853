package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"apikit/internal/store"
)

// RedisLimiterConfig configures the Redis-backed limiter.
type RedisLimiterConfig struct {
	Addr         string
	Addrs        []string
	MasterName   string
	Username     string
	Password     string
	DB           int
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// RedisLimiter keeps fixed-window counters in Redis so several processes
// share one budget per key.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter connects a limiter to the configured Redis deployment.
func NewRedisLimiter(cfg RedisLimiterConfig) (*RedisLimiter, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, errors.New("redis addr is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "apikit:limit:"
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &RedisLimiter{client: client, prefix: prefix}, nil
}

// Allow counts a hit and reads the window's TTL in one round trip. A key
// without an expiry, either fresh or left behind by an EXPIRE that never
// landed, gets the window armed again, so no counter outlives its window.
func (l *RedisLimiter) Allow(ctx context.Context, _ store.Source, key LimitKey, limit int, window time.Duration) (Decision, error) {
	if window < time.Second {
		window = time.Second
	}
	redisKey := l.prefix + key.String()

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return Decision{}, err
		}
		remaining = window
	}
	return decide(limit, incr.Val(), remaining), nil
}

// Ping verifies Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the client connections.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
