package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"apikit/internal/api"
	"apikit/internal/auth"
	"apikit/internal/builtin"
	"apikit/internal/config"
	"apikit/internal/observability/logging"
	"apikit/internal/observability/metrics"
	"apikit/internal/schema"
	"apikit/internal/server"
	"apikit/internal/serverutil"
	"apikit/internal/store"
)

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	stores  *store.MultiStore
	server  *server.Server
	closers []serverutil.CloseFunc
}

func newApp(ctx context.Context, cfg config.Config, logOutput io.Writer) (*app, error) {
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: logOutput})
	recorder := metrics.Default()

	stores, err := store.OpenMulti(ctx, cfg.StoreConfigs(), store.WithLogger(logging.WithComponent(logger, "store")))
	if err != nil {
		return nil, fmt.Errorf("open databases: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, stores: stores}
	a.closers = append(a.closers, stores.Close)

	fail := func(err error) (*app, error) {
		_ = a.close(context.Background())
		return nil, err
	}

	for _, key := range stores.Keys() {
		member, _ := stores.Get(key)
		recorder.SetStoreConnected(key, member.Connected())
		if !member.Connected() {
			logger.Warn("database unavailable", "store", key, "error", member.ConnectError())
		}
	}
	if primary, err := stores.Select(0); err == nil && primary.Connected() {
		if err := schema.Apply(ctx, primary); err != nil {
			return fail(fmt.Errorf("apply schema: %w", err))
		}
	}

	limiter, closeLimiter, err := buildLimiter(cfg.RateLimit)
	if err != nil {
		return fail(err)
	}
	if closeLimiter != nil {
		a.closers = append(a.closers, closeLimiter)
	}

	authOpts := []auth.Option{
		auth.WithTokenLength(cfg.TokenBytes),
		auth.WithWindow(cfg.RateLimit.Window),
		auth.WithLogger(logging.WithComponent(logger, "auth")),
	}
	if cfg.TokenCache.Size > 0 {
		authOpts = append(authOpts, auth.WithCache(auth.NewTokenCache(cfg.TokenCache.Size, cfg.TokenCache.TTL)))
	}
	if limiter != nil {
		authOpts = append(authOpts, auth.WithLimiter(limiter))
	}

	dispatcher := api.NewDispatcher(
		api.WithAuthService(auth.NewService(authOpts...)),
		api.WithMetrics(recorder),
		api.WithLogger(logging.WithComponent(logger, "api")),
	)
	if err := builtin.Register(dispatcher, builtin.Options{AdminTable: cfg.AdminTable, Metrics: recorder}); err != nil {
		return fail(fmt.Errorf("register methods: %w", err))
	}

	srv, err := server.New(dispatcher, stores, server.Config{
		Addr: cfg.Addr,
		TLS:  server.TLSConfig{CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     cfg.RateLimit.GlobalRPS,
			GlobalBurst:   cfg.RateLimit.GlobalBurst,
			SignInMethods: []string{builtin.SignInMethod},
			SignInLimit:   cfg.RateLimit.SignInLimit,
			SignInWindow:  cfg.RateLimit.SignInWindow,
			SignInLimiter: signInLimiter(limiter),
		},
		Logger:  logger,
		Metrics: recorder,
		H2C:     cfg.H2C,
	})
	if err != nil {
		return fail(fmt.Errorf("initialise server: %w", err))
	}
	a.server = srv
	return a, nil
}

func (a *app) serve(ctx context.Context, ready func(net.Addr)) error {
	a.logger.Info("apikit listening",
		"addr", a.cfg.Addr,
		"databases", a.stores.Keys(),
		"rate_backend", a.cfg.RateLimit.Backend,
		"h2c", a.cfg.H2C,
	)
	tlsCfg := a.server.TLS()
	err := serverutil.Run(ctx, serverutil.Config{
		Server:          a.server.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: tlsCfg.CertFile, KeyFile: tlsCfg.KeyFile},
		ShutdownTimeout: a.cfg.ShutdownTimeout,
		Logger:          a.logger,
		Ready:           ready,
		Closers:         a.closers,
	})
	if err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

// close releases resources when the server never started.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for _, closer := range a.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildLimiter opens the per-method limiter backend. A nil limiter disables
// per-method limits.
func buildLimiter(cfg config.RateLimitConfig) (auth.Limiter, serverutil.CloseFunc, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil, nil
	case config.BackendStore:
		return auth.NewStoreLimiter(), nil, nil
	case config.BackendMemory:
		return auth.NewMemoryLimiter(), nil, nil
	case config.BackendRedis:
		limiter, err := auth.NewRedisLimiter(auth.RedisLimiterConfig{
			Addr:         cfg.Redis.Addr,
			Addrs:        cfg.Redis.Addrs,
			MasterName:   cfg.Redis.MasterName,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configure redis limiter: %w", err)
		}
		return limiter, func(context.Context) error { return limiter.Close() }, nil
	case config.BackendBadger:
		limiter, err := auth.OpenBadgerLimiter(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return limiter, func(context.Context) error { return limiter.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit backend %q", cfg.Backend)
	}
}

// signInLimiter shares the method limiter with the sign-in throttle when it
// does not need a store. Otherwise the server keeps its own memory limiter.
func signInLimiter(limiter auth.Limiter) auth.Limiter {
	switch limiter.(type) {
	case *auth.MemoryLimiter, *auth.RedisLimiter, *auth.BadgerLimiter:
		return limiter
	default:
		return nil
	}
}
