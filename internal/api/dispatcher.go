package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"apikit/internal/auth"
	"apikit/internal/observability/logging"
	"apikit/internal/observability/metrics"
	"apikit/internal/store"
)

// DefaultLimit is the per-window call ceiling of a method registered
// without one.
const DefaultLimit = 150

// TokenParam is the parameter carrying the caller's access token.
const TokenParam = "access_token"

// HandlerFunc serves one method call. Returning an error produces the fixed
// 500 response.
type HandlerFunc func(ctx context.Context, src store.Source, params Params) (Response, error)

// AdminCheck reports whether userID holds admin rights.
type AdminCheck func(ctx context.Context, src store.Source, userID int64) (bool, error)

// AuthorizationCheck validates the credential supplied in the configured
// parameter or header.
type AuthorizationCheck func(ctx context.Context, src store.Source, value string) (bool, error)

// Method is the registration metadata of a named method.
type Method struct {
	// Params lists required parameter names in reporting order.
	Params []string
	// Limit is the call ceiling per rate-limit window. Zero means
	// DefaultLimit.
	Limit int
	Auth  bool
	Admin bool

	handler HandlerFunc
}

type authorizationHook struct {
	check      AuthorizationCheck
	param      string
	fromParams bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuthService sets the service used for token checks and rate limits.
func WithAuthService(svc *auth.Service) Option {
	return func(d *Dispatcher) {
		if svc != nil {
			d.auth = svc
		}
	}
}

// WithMetrics sets the recorder that receives per-method outcomes.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(d *Dispatcher) {
		d.metrics = recorder
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher owns the method registry and runs the request pipeline.
type Dispatcher struct {
	mu        sync.RWMutex
	methods   map[string]Method
	order     []string
	adminHook AdminCheck
	authHook  *authorizationHook

	auth    *auth.Service
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		methods: make(map[string]Method),
		auth:    auth.NewService(),
		metrics: metrics.Default(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Register adds a method under name. Names are matched exactly and may only
// be registered once.
func (d *Dispatcher) Register(name string, handler HandlerFunc, m Method) error {
	if strings.TrimSpace(name) == "" || handler == nil {
		return fmt.Errorf("register %q: %w", name, ErrInvalidMethod)
	}
	if m.Limit <= 0 {
		m.Limit = DefaultLimit
	}
	m.Params = append([]string(nil), m.Params...)
	m.handler = handler

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.methods[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateMethod)
	}
	d.methods[name] = m
	d.order = append(d.order, name)
	return nil
}

// SetAdminCheck installs the hook consulted for admin-only methods.
func (d *Dispatcher) SetAdminCheck(check AdminCheck) error {
	if check == nil {
		return fmt.Errorf("admin check: %w", ErrInvalidHook)
	}
	d.mu.Lock()
	d.adminHook = check
	d.mu.Unlock()
	return nil
}

// SetAuthorizationHook replaces token authorization with check. The hook
// receives the value of param, read from the call parameters when
// fromParams is true and from the request headers otherwise.
func (d *Dispatcher) SetAuthorizationHook(check AuthorizationCheck, param string, fromParams bool) error {
	if check == nil {
		return fmt.Errorf("authorization hook: %w", ErrInvalidHook)
	}
	param = strings.TrimSpace(param)
	if param == "" {
		return fmt.Errorf("authorization hook: parameter name required: %w", ErrInvalidHook)
	}
	d.mu.Lock()
	d.authHook = &authorizationHook{check: check, param: param, fromParams: fromParams}
	d.mu.Unlock()
	return nil
}

// Methods returns registered method names in registration order.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Lookup returns the metadata registered under name.
func (d *Dispatcher) Lookup(name string) (Method, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.methods[name]
	return m, ok
}

// Auth returns the authorization service used by the pipeline.
func (d *Dispatcher) Auth() *auth.Service {
	return d.auth
}

// Process runs the pipeline for req against src. Gate failures come back as
// error Responses; a non-nil error means a handler or hook failed and the
// caller must convert it, as Serve does.
func (d *Dispatcher) Process(ctx context.Context, req *Request, src store.Source) (Response, error) {
	if req == nil {
		req = &Request{}
	}
	start := time.Now()
	resp, outcome, err := d.process(ctx, req, src)
	if err != nil {
		outcome = metrics.OutcomeError
	}
	d.observe(req.Method, outcome, time.Since(start))
	return resp, err
}

func (d *Dispatcher) process(ctx context.Context, req *Request, src store.Source) (Response, string, error) {
	logger := d.requestLogger(ctx)

	d.mu.RLock()
	m, ok := d.methods[req.Method]
	adminHook := d.adminHook
	authHook := d.authHook
	d.mu.RUnlock()

	if !ok {
		logger.DebugContext(ctx, "unknown method requested")
		return unknownMethod(), metrics.OutcomeUnknownMethod, nil
	}

	if src == nil || !src.Connected() {
		detail := "no store configured"
		if src != nil {
			detail = src.ConnectError()
		}
		logger.WarnContext(ctx, "store unavailable", "error", detail)
		return Error(http.StatusNotFound, http.StatusInternalServerError, "Error connecting database, try later.",
			map[string]any{"db": map[string]any{"error_message": detail}}), metrics.OutcomeStoreUnavailable, nil
	}

	primary, err := store.Primary(src)
	if err != nil {
		return Response{}, "", fmt.Errorf("resolve store: %w", err)
	}

	params := req.Params
	credential := params.String(TokenParam)
	if m.Auth {
		if authHook != nil {
			value, present := authHook.value(req)
			allowed := false
			if present {
				allowed, err = authHook.check(ctx, src, value)
				if err != nil {
					return Response{}, "", fmt.Errorf("authorization hook: %w", err)
				}
			}
			if !allowed {
				logger.DebugContext(ctx, "authorization hook rejected call", "param", authHook.param)
				message := "Authorization failed: " + authHook.param + " was missing or invalid."
				if !authHook.fromParams {
					message += " (Header)"
				}
				return Error(http.StatusUnauthorized, http.StatusUnauthorized, message, nil), metrics.OutcomeUnauthorized, nil
			}
			credential = value
		} else {
			allowed, err := d.auth.IsAuthorized(ctx, primary, credential)
			if err != nil {
				return Response{}, "", fmt.Errorf("authorize: %w", err)
			}
			if !allowed {
				logger.DebugContext(ctx, "access token rejected")
				return Error(http.StatusUnauthorized, http.StatusUnauthorized,
					"Authorization failed: access_token was missing or invalid.", nil), metrics.OutcomeUnauthorized, nil
			}
		}
	}

	if m.Admin {
		allowed, err := d.checkAdmin(ctx, src, primary, adminHook, params.String(TokenParam))
		if err != nil {
			return Response{}, "", err
		}
		if !allowed {
			logger.DebugContext(ctx, "admin check denied call")
			return unknownMethod(), metrics.OutcomeAdminRequired, nil
		}
	}

	for _, name := range m.Params {
		if !params.Has(name) {
			logger.DebugContext(ctx, "required parameter missing", "param", name)
			return Error(http.StatusBadRequest, http.StatusBadRequest,
				"Parameters error: "+name+" a required parameter.", nil), metrics.OutcomeMissingParameter, nil
		}
	}

	if m.Auth && d.auth.RateLimited() {
		decision, err := d.auth.CheckRateLimit(ctx, primary, req.Method, credential, m.Limit)
		if err != nil {
			return Response{}, "", err
		}
		if !decision.Allowed {
			retry := int64((decision.RetryAfter + time.Second - 1) / time.Second)
			return Error(http.StatusTooManyRequests, http.StatusTooManyRequests,
				"Rate limit exceeded: too many requests to "+req.Method+".",
				map[string]any{"rate_limit": map[string]any{"limit": decision.Limit, "retry_after": retry}},
			).WithHeader("Retry-After", strconv.FormatInt(retry, 10)), metrics.OutcomeRateLimited, nil
		}
	}

	resp, err := m.handler(ctx, src, params)
	if err != nil {
		return Response{}, "", err
	}
	return resp, metrics.OutcomeOK, nil
}

func (d *Dispatcher) checkAdmin(ctx context.Context, src store.Source, primary *store.Store, hook AdminCheck, token string) (bool, error) {
	if hook == nil {
		return false, nil
	}
	userID, err := d.auth.ResolveUserID(ctx, primary, token)
	if err != nil {
		return false, fmt.Errorf("resolve user: %w", err)
	}
	if userID == 0 {
		return false, nil
	}
	allowed, err := hook(ctx, src, userID)
	if err != nil {
		return false, fmt.Errorf("admin check: %w", err)
	}
	return allowed, nil
}

func (h *authorizationHook) value(req *Request) (string, bool) {
	if h.fromParams {
		if !req.Params.Has(h.param) {
			return "", false
		}
		return req.Params.String(h.param), true
	}
	v, ok := req.Headers.Get(h.param)
	return v, ok && v != ""
}

func (d *Dispatcher) observe(method, outcome string, duration time.Duration) {
	if d.metrics == nil {
		return
	}
	d.mu.RLock()
	_, known := d.methods[method]
	d.mu.RUnlock()
	if !known {
		method = "unknown"
	}
	d.metrics.ObserveMethod(method, outcome, duration)
}

func (d *Dispatcher) requestLogger(ctx context.Context) *slog.Logger {
	if logger := logging.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return logging.WithContext(ctx, d.logger)
}

func unknownMethod() Response {
	return Error(http.StatusNotFound, http.StatusNotFound, "Unknown method requested.", nil)
}
