package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"apikit/internal/record"
	"apikit/internal/store"
)

// Table and column names used by the authorization service.
const (
	TokensTable = "access_tokens"
	LimitsTable = "limits"

	TokenColumn  = "access_token"
	UserIDColumn = "user_id"
)

// DefaultTokenBytes is the number of random bytes in a generated token. The
// hex encoding doubles it.
const DefaultTokenBytes = 24

// DefaultWindow is the rate-limit window used when none is configured.
const DefaultWindow = time.Minute

// Token identifies an issued access token row.
type Token struct {
	ID    int64  `json:"id"`
	Token string `json:"access_token"`
	// Issued is set when the call generated the token rather than reusing
	// an existing row.
	Issued bool `json:"-"`
}

// Option configures a Service instance.
type Option func(*Service)

// WithTokenLength sets the number of random bytes for newly issued tokens.
func WithTokenLength(length int) Option {
	return func(s *Service) {
		if length > 0 {
			s.tokenLength = length
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLimiter enables rate limiting through the provided backend.
func WithLimiter(limiter Limiter) Option {
	return func(s *Service) {
		s.limiter = limiter
	}
}

// WithWindow sets the fixed rate-limit window.
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithCache enables caching of successful token lookups.
func WithCache(cache *TokenCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithLogger injects the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service validates, resolves and issues access tokens against a store and
// enforces per-method request limits. It holds no per-request state.
type Service struct {
	tokenLength  int
	tokenFactory func(int) (string, error)
	now          func() time.Time
	limiter      Limiter
	window       time.Duration
	cache        *TokenCache
	logger       *slog.Logger
	issueLocks   keyedMutex
}

// NewService constructs a Service with the provided options.
func NewService(opts ...Option) *Service {
	s := &Service{
		tokenLength:  DefaultTokenBytes,
		tokenFactory: generateToken,
		now:          time.Now,
		window:       DefaultWindow,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RateLimited reports whether a limiter backend is configured.
func (s *Service) RateLimited() bool {
	return s != nil && s.limiter != nil
}

// Window returns the fixed rate-limit window.
func (s *Service) Window() time.Duration {
	return s.window
}

// IsAuthorized reports whether token matches exactly one access token row.
func (s *Service) IsAuthorized(ctx context.Context, src store.Source, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	if _, ok := s.cache.Get(token); ok {
		return true, nil
	}
	n, err := src.Count(ctx, TokensTable, "WHERE `access_token` = ?", token)
	if err != nil {
		return false, fmt.Errorf("count access tokens: %w", err)
	}
	return n == 1, nil
}

// Lookup returns the access token row for token, or an absent record.
func (s *Service) Lookup(ctx context.Context, src store.Source, token string) (*record.Record, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return record.Absent(TokensTable), nil
	}
	row, err := src.FindOne(ctx, TokensTable, "WHERE `access_token` = ?", token)
	if err != nil {
		return nil, fmt.Errorf("find access token: %w", err)
	}
	return row, nil
}

// ResolveUserID returns the user owning token, or 0 when the token is
// unknown. Callers must treat 0 as unresolved.
func (s *Service) ResolveUserID(ctx context.Context, src store.Source, token string) (int64, error) {
	if entry, ok := s.cache.Get(token); ok {
		return entry.UserID, nil
	}
	row, err := s.Lookup(ctx, src, token)
	if err != nil {
		return 0, err
	}
	if row.IsEmpty() {
		return 0, nil
	}
	userID := row.Int(UserIDColumn)
	if id, ok := row.ID(); ok && userID != 0 {
		s.cache.Set(token, CacheEntry{TokenID: id, UserID: userID})
	}
	return userID, nil
}

// IssueToken returns the existing token for userID, or generates and stores
// a new one recording the issue time and the caller's address. Repeated calls
// for the same user return the same token.
func (s *Service) IssueToken(ctx context.Context, src store.Source, userID int64, ip string) (Token, error) {
	if userID <= 0 {
		return Token{}, ErrInvalidUserID
	}
	unlock := s.issueLocks.Lock(fmt.Sprintf("user:%d", userID))
	defer unlock()

	existing, err := src.FindOne(ctx, TokensTable, "WHERE `user_id` = ?", userID)
	if err != nil {
		return Token{}, fmt.Errorf("find token for user %d: %w", userID, err)
	}
	if !existing.IsEmpty() {
		id, _ := existing.ID()
		return Token{ID: id, Token: existing.String(TokenColumn)}, nil
	}

	token, err := s.tokenFactory(s.tokenLength)
	if err != nil {
		s.logger.WarnContext(ctx, "secure token generation failed, using fallback", "error", err)
		token, err = fallbackToken()
		if err != nil {
			return Token{}, fmt.Errorf("generate token: %w", err)
		}
	}

	row := src.Dispense(TokensTable)
	row.Set(UserIDColumn, userID)
	row.Set(TokenColumn, token)
	row.Set("time", s.now().Unix())
	row.Set("ip", ip)
	if err := src.Persist(ctx, row); err != nil {
		if !store.IsUniqueViolation(err) {
			return Token{}, fmt.Errorf("store token for user %d: %w", userID, err)
		}
		// Another process issued a token for this user first.
		winner, ferr := src.FindOne(ctx, TokensTable, "WHERE `user_id` = ?", userID)
		if ferr != nil || winner.IsEmpty() {
			return Token{}, fmt.Errorf("store token for user %d: %w", userID, err)
		}
		id, _ := winner.ID()
		return Token{ID: id, Token: winner.String(TokenColumn)}, nil
	}
	id, _ := row.ID()
	s.logger.InfoContext(ctx, "access token issued", "user_id", userID, "token_id", id)
	return Token{ID: id, Token: token, Issued: true}, nil
}

// ErrInvalidUserID is returned when issuing a token without a user.
var ErrInvalidUserID = errors.New("user id is required")
