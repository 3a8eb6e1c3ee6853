package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"apikit/internal/api"
	"apikit/internal/auth"
)

// RateLimitConfig configures limits enforced before a call reaches the
// dispatcher. Per-token method limits are the dispatcher's job.
type RateLimitConfig struct {
	// GlobalRPS caps requests per second across all clients. Zero disables.
	GlobalRPS   float64
	GlobalBurst int

	// SignInMethods are counted per client address, SignInLimit calls per
	// SignInWindow, using SignInLimiter (an in-memory limiter when nil).
	SignInMethods []string
	SignInLimit   int
	SignInWindow  time.Duration
	SignInLimiter auth.Limiter
}

type rateLimiter struct {
	global        *rate.Limiter
	signIn        map[string]struct{}
	signInLimit   int
	signInWindow  time.Duration
	signInLimiter auth.Limiter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		signIn:        make(map[string]struct{}, len(cfg.SignInMethods)),
		signInLimit:   cfg.SignInLimit,
		signInWindow:  cfg.SignInWindow,
		signInLimiter: cfg.SignInLimiter,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	for _, method := range cfg.SignInMethods {
		rl.signIn[method] = struct{}{}
	}
	if rl.signInWindow <= 0 {
		rl.signInWindow = time.Minute
	}
	if rl.signInLimit > 0 && rl.signInLimiter == nil {
		rl.signInLimiter = auth.NewMemoryLimiter()
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowSignIn counts a call of method from ip when method is a sign-in
// method.
func (r *rateLimiter) AllowSignIn(ctx context.Context, method, ip string) (auth.Decision, error) {
	if r == nil || r.signInLimit <= 0 {
		return auth.Decision{Allowed: true}, nil
	}
	if _, ok := r.signIn[method]; !ok {
		return auth.Decision{Allowed: true}, nil
	}
	if ip == "" {
		ip = "unknown"
	}
	key := auth.LimitKey{Subject: "ip:" + ip, Method: method}
	return r.signInLimiter.Allow(ctx, nil, key, r.signInLimit, r.signInWindow)
}

func rateLimitMiddleware(rl *rateLimiter, next http.Handler) http.Handler {
	if rl == nil || rl.global == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "Rate limit exceeded: server is busy.", time.Second)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeMiddlewareError renders middleware rejections in the API envelope.
func writeMiddlewareError(w http.ResponseWriter, status int, message string, retryAfter time.Duration) {
	resp := api.Error(status, status, message, nil)
	if retryAfter > 0 {
		seconds := int64((retryAfter + time.Second - 1) / time.Second)
		resp = resp.WithHeader("Retry-After", strconv.FormatInt(seconds, 10))
	}
	_ = resp.Write(w)
}
