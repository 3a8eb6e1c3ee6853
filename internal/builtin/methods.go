package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"apikit/internal/api"
	"apikit/internal/auth"
	"apikit/internal/observability/metrics"
	"apikit/internal/store"
)

// SignInMethod exchanges a login and password for an access token.
const SignInMethod = "auth.signIn"

// Options configures the stock method set.
type Options struct {
	// AdminTable lists users allowed to call admin methods. Empty disables
	// the admin check, which denies every admin method.
	AdminTable string
	Metrics    *metrics.Recorder
}

type methods struct {
	dispatcher *api.Dispatcher
	auth       *auth.Service
	adminTable string
	metrics    *metrics.Recorder
}

// Register adds the stock methods to d and installs the admin check.
func Register(d *api.Dispatcher, opts Options) error {
	if d == nil {
		return errors.New("dispatcher is required")
	}
	m := &methods{dispatcher: d, auth: d.Auth(), adminTable: opts.AdminTable, metrics: opts.Metrics}
	if m.metrics == nil {
		m.metrics = metrics.Default()
	}

	registrations := []struct {
		name    string
		handler api.HandlerFunc
		method  api.Method
	}{
		{"ping", m.ping, api.Method{}},
		{SignInMethod, m.signIn, api.Method{Params: []string{"login", "password"}}},
		{"users.get", m.usersGet, api.Method{Params: []string{"user_id"}, Auth: true}},
		{"users.create", m.usersCreate, api.Method{Params: []string{"login", "password"}, Auth: true, Admin: true, Limit: 30}},
		{"admin.stats", m.adminStats, api.Method{Auth: true, Admin: true}},
		{"auth.rateLimit", m.rateLimit, api.Method{Params: []string{"method"}, Auth: true}},
	}
	for _, r := range registrations {
		if err := d.Register(r.name, r.handler, r.method); err != nil {
			return err
		}
	}
	if m.adminTable != "" {
		if err := d.SetAdminCheck(AdminFromTable(m.adminTable)); err != nil {
			return err
		}
	}
	return nil
}

func (m *methods) ping(context.Context, store.Source, api.Params) (api.Response, error) {
	return api.OK(true), nil
}

func (m *methods) signIn(ctx context.Context, src store.Source, p api.Params) (api.Response, error) {
	user, err := Authenticate(ctx, src, p.String("login"), p.String("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return api.Error(http.StatusUnauthorized, http.StatusUnauthorized, "Authorization failed: login or password is invalid.", nil), nil
	}
	if err != nil {
		return api.Response{}, err
	}
	token, err := m.auth.IssueToken(ctx, src, user.ID, api.ClientIPFromContext(ctx))
	if err != nil {
		return api.Response{}, err
	}
	if token.Issued {
		m.metrics.TokenIssued()
	}
	return api.OK(map[string]any{
		"access_token": token.Token,
		"user":         user,
	}), nil
}

func (m *methods) usersGet(ctx context.Context, src store.Source, p api.Params) (api.Response, error) {
	id, ok := p.Int("user_id")
	if !ok || id <= 0 {
		return api.Error(http.StatusBadRequest, http.StatusBadRequest, "Parameters error: user_id must be a positive integer.", nil), nil
	}
	user, found, err := FindUser(ctx, src, id)
	if err != nil {
		return api.Response{}, err
	}
	if !found {
		return api.Error(http.StatusNotFound, http.StatusNotFound, "User not found.", nil), nil
	}
	return api.OK(user), nil
}

func (m *methods) usersCreate(ctx context.Context, src store.Source, p api.Params) (api.Response, error) {
	user, err := CreateUser(ctx, src, p.String("login"), p.String("password"), p.String("name"))
	switch {
	case errors.Is(err, ErrUserExists):
		return api.Error(http.StatusConflict, http.StatusConflict, "User already exists.", nil), nil
	case isInputError(err):
		return api.Error(http.StatusBadRequest, http.StatusBadRequest, "Parameters error: "+err.Error()+".", nil), nil
	case err != nil:
		return api.Response{}, err
	}
	return api.Success(http.StatusCreated, user), nil
}

func (m *methods) adminStats(ctx context.Context, src store.Source, _ api.Params) (api.Response, error) {
	stats := map[string]any{"methods": len(m.dispatcher.Methods())}
	for _, table := range []string{UsersTable, auth.TokensTable, m.adminTable} {
		if table == "" {
			continue
		}
		n, err := src.Count(ctx, table, "")
		if err != nil {
			return api.Response{}, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = n
	}
	return api.OK(stats), nil
}

func (m *methods) rateLimit(_ context.Context, _ store.Source, p api.Params) (api.Response, error) {
	name := p.String("method")
	method, ok := m.dispatcher.Lookup(name)
	if !ok {
		return api.Error(http.StatusNotFound, http.StatusNotFound, "Unknown method requested.", nil), nil
	}
	limited := method.Auth && m.auth.RateLimited()
	payload := map[string]any{
		"method":  name,
		"limited": limited,
	}
	if limited {
		payload["limit"] = method.Limit
		payload["window_seconds"] = int64(m.auth.Window().Seconds())
	}
	return api.OK(payload), nil
}

func isInputError(err error) bool {
	return errors.Is(err, ErrLoginRequired) || errors.Is(err, auth.ErrPasswordTooShort)
}
