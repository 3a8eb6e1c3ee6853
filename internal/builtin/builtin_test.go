package builtin

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"apikit/internal/api"
	"apikit/internal/auth"
	"apikit/internal/observability/metrics"
	"apikit/internal/schema"
	"apikit/internal/store"
)

const adminTable = "admins"

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.Open(ctx, store.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "builtin.db")})
	if !s.Connected() {
		t.Fatalf("open sqlite store: %s", s.ConnectError())
	}
	t.Cleanup(func() { s.Close(ctx) })
	if err := schema.Apply(ctx, s); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return s
}

func newTestDispatcher(t *testing.T, opts ...auth.Option) (*api.Dispatcher, *metrics.Recorder) {
	t.Helper()
	recorder := metrics.New()
	d := api.NewDispatcher(api.WithMetrics(recorder), api.WithAuthService(auth.NewService(opts...)))
	if err := Register(d, Options{AdminTable: adminTable, Metrics: recorder}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return d, recorder
}

func serve(d *api.Dispatcher, src store.Source, method string, params map[string]any) api.Response {
	return d.Serve(context.Background(), &api.Request{
		Method:   method,
		Params:   api.NewParams(params),
		ClientIP: "203.0.113.9",
	}, src)
}

func mustCreateUser(t *testing.T, src store.Source, login string) User {
	t.Helper()
	user, err := CreateUser(context.Background(), src, login, "correct horse", strings.ToUpper(login))
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	return user
}

func signIn(t *testing.T, d *api.Dispatcher, src store.Source, login string) string {
	t.Helper()
	resp := serve(d, src, "auth.signIn", map[string]any{"login": login, "password": "correct horse"})
	if resp.IsError() {
		t.Fatalf("sign in failed: %+v", resp.Err())
	}
	payload, ok := resp.Payload().(map[string]any)
	if !ok {
		t.Fatalf("unexpected sign in payload %T", resp.Payload())
	}
	token, _ := payload["access_token"].(string)
	if token == "" {
		t.Fatal("expected an access token")
	}
	return token
}

func TestCreateUserRejectsDuplicatesAndBadInput(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	user := mustCreateUser(t, src, "ada")
	if user.ID <= 0 || user.Login != "ada" || user.Name != "ADA" {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := CreateUser(ctx, src, " ada ", "correct horse", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := CreateUser(ctx, src, "  ", "correct horse", ""); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if _, err := CreateUser(ctx, src, "bob", "short", ""); !errors.Is(err, auth.ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

// blindCounter reports no existing rows, so uniqueness is left to the
// table constraints as when two processes race.
type blindCounter struct {
	store.Source
}

func (blindCounter) Count(context.Context, string, string, ...any) (int64, error) {
	return 0, nil
}

func TestCreateUserAndGrantAdminSurviveRaces(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	user := mustCreateUser(t, src, "ada")
	racing := blindCounter{Source: src}

	if _, err := CreateUser(ctx, racing, "ada", "correct horse", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists from the unique login, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := GrantAdmin(ctx, racing, adminTable, user.ID); err != nil {
			t.Fatalf("GrantAdmin #%d returned error: %v", i+1, err)
		}
	}
	if n, err := src.Count(ctx, adminTable, ""); err != nil || n != 1 {
		t.Fatalf("expected one admin row, got %d (%v)", n, err)
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	created := mustCreateUser(t, src, "ada")

	user, err := Authenticate(ctx, src, "ada", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("expected user %d, got %d", created.ID, user.ID)
	}
	if _, err := Authenticate(ctx, src, "ada", "battery staple"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := Authenticate(ctx, src, "nobody", "correct horse"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown login, got %v", err)
	}
}

func TestGrantAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	user := mustCreateUser(t, src, "ada")
	check := AdminFromTable(adminTable)

	if ok, err := check(ctx, src, user.ID); err != nil || ok {
		t.Fatalf("expected non-admin before grant, got %v, %v", ok, err)
	}
	for i := 0; i < 2; i++ {
		if err := GrantAdmin(ctx, src, adminTable, user.ID); err != nil {
			t.Fatalf("GrantAdmin returned error: %v", err)
		}
	}
	n, err := src.Count(ctx, adminTable, "")
	if err != nil {
		t.Fatalf("count admins: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one admin row, got %d", n)
	}
	if ok, err := check(ctx, src, user.ID); err != nil || !ok {
		t.Fatalf("expected admin after grant, got %v, %v", ok, err)
	}
}

func TestRegisterRejectsNilDispatcher(t *testing.T) {
	if err := Register(nil, Options{}); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}
}

func TestPing(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := serve(d, openTestStore(t), "ping", nil)
	if resp.IsError() || resp.Payload() != true {
		t.Fatalf("expected true payload, got %+v", resp)
	}
}

func TestSignInIssuesStableToken(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	d, recorder := newTestDispatcher(t)
	mustCreateUser(t, src, "ada")

	first := signIn(t, d, src, "ada")
	second := signIn(t, d, src, "ada")
	if first != second {
		t.Fatalf("expected repeated sign in to reuse the token, got %q and %q", first, second)
	}

	row, err := src.FindOne(ctx, auth.TokensTable, "WHERE `access_token` = ?", first)
	if err != nil {
		t.Fatalf("find token: %v", err)
	}
	if got := row.String("ip"); got != "203.0.113.9" {
		t.Fatalf("expected client ip to be recorded, got %q", got)
	}

	var buf bytes.Buffer
	recorder.Write(&buf)
	if !strings.Contains(buf.String(), "apikit_tokens_issued_total 1") {
		t.Fatalf("expected a single issued token in metrics:\n%s", buf.String())
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	src := openTestStore(t)
	d, _ := newTestDispatcher(t)
	mustCreateUser(t, src, "ada")

	resp := serve(d, src, "auth.signIn", map[string]any{"login": "ada", "password": "battery staple"})
	if resp.Status() != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Status())
	}
	resp = serve(d, src, "auth.signIn", map[string]any{"login": "ada"})
	if got := resp.Err(); got == nil || got.Message != "Parameters error: password a required parameter." {
		t.Fatalf("expected missing password error, got %+v", got)
	}
}

func TestUsersGet(t *testing.T) {
	src := openTestStore(t)
	d, _ := newTestDispatcher(t)
	user := mustCreateUser(t, src, "ada")
	token := signIn(t, d, src, "ada")

	resp := serve(d, src, "users.get", map[string]any{"user_id": user.ID})
	if got := resp.Err(); got == nil || got.Code != http.StatusUnauthorized {
		t.Fatalf("expected authorization failure without token, got %+v", got)
	}

	resp = serve(d, src, "users.get", map[string]any{api.TokenParam: token, "user_id": user.ID})
	got, ok := resp.Payload().(User)
	if !ok || got.Login != "ada" {
		t.Fatalf("unexpected payload %+v", resp.Payload())
	}

	resp = serve(d, src, "users.get", map[string]any{api.TokenParam: token, "user_id": "999"})
	if resp.Status() != http.StatusNotFound || resp.Err().Message != "User not found." {
		t.Fatalf("expected user not found, got %d %+v", resp.Status(), resp.Err())
	}

	resp = serve(d, src, "users.get", map[string]any{api.TokenParam: token, "user_id": "abc"})
	if resp.Status() != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", resp.Status())
	}
}

func TestAdminMethodsRequireAdmin(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	d, _ := newTestDispatcher(t)
	admin := mustCreateUser(t, src, "root")
	mustCreateUser(t, src, "ada")
	if err := GrantAdmin(ctx, src, adminTable, admin.ID); err != nil {
		t.Fatalf("GrantAdmin returned error: %v", err)
	}
	userToken := signIn(t, d, src, "ada")
	adminToken := signIn(t, d, src, "root")

	resp := serve(d, src, "admin.stats", map[string]any{api.TokenParam: userToken})
	if resp.Status() != http.StatusNotFound || resp.Err().Message != "Unknown method requested." {
		t.Fatalf("expected non-admin to see an unknown method, got %d %+v", resp.Status(), resp.Err())
	}

	resp = serve(d, src, "admin.stats", map[string]any{api.TokenParam: adminToken})
	stats, ok := resp.Payload().(map[string]any)
	if !ok {
		t.Fatalf("unexpected stats payload %+v", resp)
	}
	if stats[UsersTable] != int64(2) || stats[auth.TokensTable] != int64(2) || stats[adminTable] != int64(1) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats["methods"] != len(d.Methods()) {
		t.Fatalf("unexpected method count %+v", stats["methods"])
	}

	resp = serve(d, src, "users.create", map[string]any{api.TokenParam: adminToken, "login": "grace", "password": "correct horse"})
	if resp.Status() != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", resp.Status(), resp.Err())
	}
	resp = serve(d, src, "users.create", map[string]any{api.TokenParam: adminToken, "login": "grace", "password": "correct horse"})
	if resp.Status() != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate login, got %d", resp.Status())
	}
	resp = serve(d, src, "users.create", map[string]any{api.TokenParam: adminToken, "login": "linus", "password": "short"})
	if resp.Status() != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", resp.Status())
	}
}

func TestRateLimitReportsMethodLimits(t *testing.T) {
	src := openTestStore(t)
	d, _ := newTestDispatcher(t, auth.WithLimiter(auth.NewMemoryLimiter()))
	mustCreateUser(t, src, "ada")
	token := signIn(t, d, src, "ada")

	resp := serve(d, src, "auth.rateLimit", map[string]any{api.TokenParam: token, "method": "users.create"})
	payload, ok := resp.Payload().(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload %+v", resp)
	}
	if payload["limited"] != true || payload["limit"] != 30 || payload["window_seconds"] != int64(60) {
		t.Fatalf("unexpected rate limit payload %+v", payload)
	}

	resp = serve(d, src, "auth.rateLimit", map[string]any{api.TokenParam: token, "method": "ping"})
	payload, _ = resp.Payload().(map[string]any)
	if payload["limited"] != false {
		t.Fatalf("expected unauthenticated method to be unlimited, got %+v", payload)
	}

	resp = serve(d, src, "auth.rateLimit", map[string]any{api.TokenParam: token, "method": "nope"})
	if resp.Status() != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown method, got %d", resp.Status())
	}
}
