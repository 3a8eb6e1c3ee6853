package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"apikit/internal/auth"
	"apikit/internal/builtin"
	"apikit/internal/config"
	"apikit/internal/schema"
	"apikit/internal/store"
)

func envMap(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Addr != config.DefaultAddr {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if len(cfg.Databases) != 1 || cfg.Databases[0].Driver != "sqlite" {
		t.Fatalf("expected default sqlite database, got %+v", cfg.Databases)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apikit.yaml")
	writeFile(t, path, "addr: \":7000\"\nrate_limit:\n  backend: store\n  window: 30s\n")

	env := envMap(map[string]string{
		"APIKIT_CONFIG":       path,
		"APIKIT_ADDR":         ":7100",
		"APIKIT_RATE_BACKEND": "memory",
	})

	cfg, err := loadConfig(nil, env, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Addr != ":7100" || cfg.RateLimit.Backend != config.BackendMemory {
		t.Fatalf("expected env to override file, got addr=%q backend=%q", cfg.Addr, cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected window from file, got %s", cfg.RateLimit.Window)
	}

	cfg, err = loadConfig([]string{"-addr", ":7200", "-rate-backend", "badger", "-h2c"}, env, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Addr != ":7200" || cfg.RateLimit.Backend != config.BackendBadger || !cfg.H2C {
		t.Fatalf("expected flags to override env, got %+v", cfg)
	}
}

func TestLoadConfigFlagDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flag.db")
	cfg, err := loadConfig([]string{"-db-driver", "sqlite", "-db-path", dbPath}, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Databases[0].Path != dbPath || cfg.Databases[0].Name != config.DefaultDatabaseName {
		t.Fatalf("unexpected database config %+v", cfg.Databases[0])
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	if _, err := loadConfig([]string{"-rate-backend", "carrier-pigeon"}, envMap(nil), io.Discard); err == nil {
		t.Fatal("expected unknown backend to be rejected")
	}
	if _, err := loadConfig(nil, envMap(map[string]string{"APIKIT_RATE_GLOBAL_BURST": "many"}), io.Discard); err == nil {
		t.Fatal("expected malformed environment value to be rejected")
	}
	if _, err := loadConfig([]string{"-help"}, envMap(nil), io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
}

func TestBuildLimiter(t *testing.T) {
	cases := []struct {
		backend string
		check   func(auth.Limiter) bool
	}{
		{config.BackendNone, func(l auth.Limiter) bool { return l == nil }},
		{config.BackendStore, func(l auth.Limiter) bool { _, ok := l.(*auth.StoreLimiter); return ok }},
		{config.BackendMemory, func(l auth.Limiter) bool { _, ok := l.(*auth.MemoryLimiter); return ok }},
		{config.BackendBadger, func(l auth.Limiter) bool { _, ok := l.(*auth.BadgerLimiter); return ok }},
	}
	for _, tc := range cases {
		limiter, closer, err := buildLimiter(config.RateLimitConfig{Backend: tc.backend})
		if err != nil {
			t.Fatalf("buildLimiter(%q) returned error: %v", tc.backend, err)
		}
		if !tc.check(limiter) {
			t.Fatalf("buildLimiter(%q) returned %T", tc.backend, limiter)
		}
		if closer != nil {
			if err := closer(context.Background()); err != nil {
				t.Fatalf("close %q limiter: %v", tc.backend, err)
			}
		}
	}

	if _, _, err := buildLimiter(config.RateLimitConfig{Backend: config.BackendRedis}); err == nil {
		t.Fatal("expected redis backend without address to fail")
	}
}

func TestSignInLimiterSkipsStoreBackend(t *testing.T) {
	if got := signInLimiter(auth.NewStoreLimiter()); got != nil {
		t.Fatalf("expected store limiter to be skipped, got %T", got)
	}
	memory := auth.NewMemoryLimiter()
	if got := signInLimiter(memory); got != memory {
		t.Fatalf("expected memory limiter to be shared, got %T", got)
	}
	if got := signInLimiter(nil); got != nil {
		t.Fatalf("expected nil limiter to stay nil, got %T", got)
	}
}

func TestRunServesMethods(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "run.db")
	seedUser(t, dbPath, "ada", "correct horse")

	cfg, err := loadConfig([]string{
		"-addr", "127.0.0.1:0",
		"-db-driver", "sqlite",
		"-db-path", dbPath,
		"-rate-backend", "store",
	}, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, io.Discard, func(addr net.Addr) { addrCh <- addr })
	}()

	var base string
	select {
	case addr := <-addrCh:
		base = "http://" + addr.String()
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	signIn := postForm(t, base+"/method/"+builtin.SignInMethod, url.Values{"login": {"ada"}, "password": {"correct horse"}})
	var token struct {
		Response struct {
			AccessToken string `json:"access_token"`
		} `json:"response"`
	}
	if err := json.Unmarshal(signIn, &token); err != nil {
		t.Fatalf("decode sign in: %v (%s)", err, signIn)
	}
	if token.Response.AccessToken == "" {
		t.Fatalf("expected access token in %s", signIn)
	}

	body := postForm(t, base+"/method/users.get", url.Values{"access_token": {token.Response.AccessToken}, "user_id": {"1"}})
	if !strings.Contains(string(body), `"login":"ada"`) {
		t.Fatalf("unexpected users.get response %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func seedUser(t *testing.T, path, login, password string) {
	t.Helper()
	ctx := context.Background()
	s := store.Open(ctx, store.Config{Driver: "sqlite", Path: path})
	if !s.Connected() {
		t.Fatalf("open sqlite store: %s", s.ConnectError())
	}
	defer s.Close(ctx)
	if err := schema.Apply(ctx, s); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := builtin.CreateUser(ctx, s, login, password, ""); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func postForm(t *testing.T, target string, values url.Values) []byte {
	t.Helper()
	resp, err := http.PostForm(target, values)
	if err != nil {
		t.Fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d: %s", target, resp.StatusCode, body)
	}
	return body
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
