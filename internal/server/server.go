package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"apikit/internal/api"
	"apikit/internal/observability/logging"
	"apikit/internal/observability/metrics"
	"apikit/internal/store"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	// H2C serves cleartext HTTP/2 alongside HTTP/1.1 when TLS is off.
	H2C bool
}

// Pinger is implemented by stores and limiters that can report health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	logger      *slog.Logger
	metrics     *metrics.Recorder
	dispatcher  *api.Dispatcher
	source      store.Source
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(dispatcher *api.Dispatcher, src store.Source, cfg Config) (*Server, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if src == nil {
		return nil, errors.New("store is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		logger:      logger,
		metrics:     recorder,
		dispatcher:  dispatcher,
		source:      src,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/method/{name}", srv.method)

	handlerChain := http.Handler(mux)
	handlerChain = corsMiddleware(handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = rateLimitMiddleware(srv.rateLimiter, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = loggingMiddleware(logger, handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	tlsEnabled := srv.tlsCertFile != "" && srv.tlsKeyFile != ""
	if cfg.H2C && !tlsEnabled {
		handlerChain = h2c.NewHandler(handlerChain, &http2.Server{})
	}
	srv.handler = handlerChain

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsEnabled {
		srv.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Handler returns the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns the configured http.Server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// TLS returns the certificate and key paths, empty when TLS is off.
func (s *Server) TLS() TLSConfig {
	return TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) method(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeMiddlewareError(w, http.StatusMethodNotAllowed, fmt.Sprintf("HTTP method %s not allowed.", r.Method), 0)
		return
	}

	name := r.PathValue("name")
	ip := extractClientIP(r)
	ctx := r.Context()

	decision, err := s.rateLimiter.AllowSignIn(ctx, name, ip)
	if err != nil {
		loggingWithRequest(s.logger, r).Error("sign-in limiter failure", "error", err)
		writeMiddlewareError(w, http.StatusServiceUnavailable, "Rate limit failure, try later.", 0)
		return
	}
	if !decision.Allowed {
		writeMiddlewareError(w, http.StatusTooManyRequests, "Too many sign-in attempts.", decision.RetryAfter)
		return
	}

	params, err := extractParams(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		loggingWithRequest(s.logger, r).Debug("invalid request parameters", "error", err)
		writeMiddlewareError(w, status, "Parameters error: request could not be parsed.", 0)
		return
	}

	req := &api.Request{
		Method:   name,
		Params:   params,
		Headers:  api.NewHeaders(r.Header),
		ClientIP: ip,
	}
	resp := s.dispatcher.Serve(ctx, req, s.source)
	if err := resp.Write(w); err != nil {
		loggingWithRequest(s.logger, r).Warn("write response", "error", err)
	}
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentStatus `json:"components"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	overall := "ok"
	status := http.StatusOK
	record := func(component string, err error) componentStatus {
		if err != nil {
			overall = "degraded"
			status = http.StatusServiceUnavailable
			return componentStatus{Component: component, Status: "degraded", Error: err.Error()}
		}
		return componentStatus{Component: component, Status: "ok"}
	}

	components := make([]componentStatus, 0, 2)
	var storeErr error
	if !s.source.Connected() {
		storeErr = errors.New(s.source.ConnectError())
	} else if pinger, ok := s.source.(Pinger); ok {
		storeErr = pinger.Ping(ctx)
	}
	components = append(components, record("datastore", storeErr))
	s.recordStoreHealth()

	if pinger, ok := s.rateLimiter.signInLimiter.(Pinger); ok {
		components = append(components, record("sign_in_limiter", pinger.Ping(ctx)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: overall, Components: components})
}

func (s *Server) recordStoreHealth() {
	switch src := s.source.(type) {
	case *store.MultiStore:
		for _, key := range src.Keys() {
			if member, err := src.Get(key); err == nil {
				s.metrics.SetStoreConnected(key, member.Connected())
			}
		}
	case *store.Store:
		s.metrics.SetStoreConnected(src.Name(), src.Connected())
	}
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			return []any{"remote_ip", extractClientIP(r)}
		},
	})(next)
}
