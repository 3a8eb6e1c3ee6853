// Package schema bundles the tables the built-in methods and the
// authorization service rely on.
package schema

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"apikit/internal/store"
)

//go:embed sqlite.sql
var sqliteSQL string

//go:embed postgres.sql
var postgresSQL string

// For returns the schema script for a dialect name.
func For(dialect string) (string, error) {
	switch dialect {
	case store.SQLiteDialect.Name:
		return sqliteSQL, nil
	case store.PostgresDialect.Name:
		return postgresSQL, nil
	default:
		return "", fmt.Errorf("no schema for dialect %q", dialect)
	}
}

// Apply creates any missing tables on s. It is safe to run repeatedly.
func Apply(ctx context.Context, s *store.Store) error {
	dialect, ok := s.Dialect()
	if !ok {
		return fmt.Errorf("apply schema: %w", errors.Join(store.ErrNotConnected, errors.New(s.ConnectError())))
	}
	script, err := For(dialect.Name)
	if err != nil {
		return err
	}
	if _, err := s.Exec(ctx, script); err != nil {
		return fmt.Errorf("apply %s schema: %w", dialect.Name, err)
	}
	return nil
}
