package store

import (
	"context"

	"apikit/internal/record"
)

// Source is anything a request handler can run against: a single Store or a
// MultiStore. Data operations on a MultiStore forward to its first member.
type Source interface {
	Connected() bool
	ConnectError() string
	Select(index int) (*Store, error)

	Query(ctx context.Context, query string, params ...any) ([]record.Object, error)
	FindOne(ctx context.Context, table, where string, params ...any) (*record.Record, error)
	Count(ctx context.Context, table, where string, params ...any) (int64, error)
	Dispense(table string) *record.Record
	Persist(ctx context.Context, r *record.Record) error
}

var (
	_ Source = (*Store)(nil)
	_ Source = (*MultiStore)(nil)
)

// Primary resolves the concrete store a Source routes to.
func Primary(src Source) (*Store, error) {
	return src.Select(0)
}
