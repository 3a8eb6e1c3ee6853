//go:build postgres

package auth

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"apikit/internal/schema"
	"apikit/internal/store"
)

// openPostgresAuthStore connects to APIKIT_TEST_POSTGRES_DSN and resets the
// token and limit tables. The database must be dedicated to automated runs.
func openPostgresAuthStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("APIKIT_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("APIKIT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s := store.Open(ctx, store.Config{Driver: "postgres", DSN: dsn})
	if !s.Connected() {
		t.Fatalf("open postgres store: %s", s.ConnectError())
	}
	if err := schema.Apply(ctx, s); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	truncate := func() {
		if _, err := s.Exec(context.Background(), "TRUNCATE TABLE access_tokens, limits RESTART IDENTITY"); err != nil {
			t.Fatalf("truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		s.Close(ctx)
	})
	return s
}

func TestPostgresIssueToken(t *testing.T) {
	ctx := context.Background()
	s := openPostgresAuthStore(t)
	svc := NewService()

	first, err := svc.IssueToken(ctx, s, 11, "198.51.100.4")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if !first.Issued || first.ID <= 0 {
		t.Fatalf("expected a new token row, got %+v", first)
	}
	again, err := svc.IssueToken(ctx, s, 11, "198.51.100.5")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if again.Token != first.Token || again.Issued {
		t.Fatalf("expected the token to be reused, got %+v", again)
	}

	raced, err := svc.IssueToken(ctx, &staleSource{Source: s, hidden: 1}, 11, "198.51.100.6")
	if err != nil {
		t.Fatalf("IssueToken after a concurrent insert returned error: %v", err)
	}
	if raced.Token != first.Token {
		t.Fatalf("expected the existing token after a unique violation, got %+v", raced)
	}

	userID, err := svc.ResolveUserID(ctx, s, first.Token)
	if err != nil || userID != 11 {
		t.Fatalf("expected user 11, got %d (%v)", userID, err)
	}
}

func TestPostgresStoreLimiter(t *testing.T) {
	ctx := context.Background()
	s := openPostgresAuthStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewStoreLimiter()
	limiter.now = func() time.Time { return now }
	key := LimitKey{Subject: "sha256:abc", Method: "users.get"}

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, s, key, 2, time.Minute)
		if err != nil || !decision.Allowed {
			t.Fatalf("expected call #%d to be allowed, got %+v (err %v)", i+1, decision, err)
		}
	}
	now = now.Add(15 * time.Second)
	decision, err := limiter.Allow(ctx, s, key, 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if decision.Allowed || decision.RetryAfter != 45*time.Second {
		t.Fatalf("expected a denial with 45s left, got %+v", decision)
	}

	now = now.Add(time.Minute)
	decision, err = limiter.Allow(ctx, s, key, 2, time.Minute)
	if err != nil || !decision.Allowed || decision.Remaining != 1 {
		t.Fatalf("expected a fresh window, got %+v (err %v)", decision, err)
	}
}
