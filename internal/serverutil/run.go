// Package serverutil runs an http.Server until its context ends and then
// releases the resources the server depended on.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// TLSConfig names the certificate and key files for an HTTPS listener.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool { return c.CertFile != "" }

// CloseFunc releases a resource once the HTTP server has stopped.
type CloseFunc func(ctx context.Context) error

type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Ready is called with the bound address once the listener is open.
	Ready func(addr net.Addr)
	// Closers run in order after the server stops. Stores and limiters
	// belong here.
	Closers []CloseFunc
}

// DefaultShutdownTimeout bounds graceful shutdown and the closers.
const DefaultShutdownTimeout = 10 * time.Second

// Run listens on cfg.Server.Addr, serving TLS when a certificate is
// configured, and blocks until the server fails or ctx is cancelled. The
// closers run in both cases and their errors are joined into the result.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return errors.New("server is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return errors.New("both TLS cert file and key file must be provided")
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := listen(cfg.Server, cfg.TLS)
	if err != nil {
		return err
	}
	scheme := "http"
	if cfg.TLS.enabled() {
		scheme = "https"
	}
	logger.Info("server listening", "addr", ln.Addr().String(), "scheme", scheme)
	if cfg.Ready != nil {
		cfg.Ready(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := cfg.Server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutting down server", "timeout", timeout)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return cfg.Server.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	return errors.Join(runErr, closeAll(logger, timeout, cfg.Closers))
}

// listen opens the TCP listener, wrapping it in TLS when configured. The
// loaded certificate is placed ahead of any already on the server.
func listen(srv *http.Server, tlsFiles TLSConfig) (net.Listener, error) {
	var cert tls.Certificate
	if tlsFiles.enabled() {
		var err error
		cert, err = tls.LoadX509KeyPair(tlsFiles.CertFile, tlsFiles.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}
	if !tlsFiles.enabled() {
		return ln, nil
	}

	tlsCfg := &tls.Config{}
	if srv.TLSConfig != nil {
		tlsCfg = srv.TLSConfig.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	srv.TLSConfig = tlsCfg
	return tls.NewListener(ln, tlsCfg), nil
}

func closeAll(logger *slog.Logger, timeout time.Duration, closers []CloseFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var errs []error
	for i, closer := range closers {
		if closer == nil {
			continue
		}
		if err := closer(ctx); err != nil {
			logger.Warn("close resource", "index", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
