package store

import (
	"context"
	"database/sql/driver"
	"strconv"
	"time"
)

// Conn is a single live database connection. Implementations materialise
// result sets so the caller never holds a cursor across the Store gate.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Dialect() Dialect
}

// Rows is a fully read result set with raw driver values.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of rows.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Row returns row i keyed by column name.
func (r *Rows) Row(i int) map[string]any {
	out := make(map[string]any, len(r.Columns))
	for j, col := range r.Columns {
		if j < len(r.Values[i]) {
			out[col] = r.Values[i][j]
		}
	}
	return out
}

// Dialect captures the syntax differences between supported databases.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) positional parameter.
	Placeholder func(n int) string
}

var (
	// PostgresDialect uses $n placeholders.
	PostgresDialect = Dialect{Name: "postgres", Placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
	// SQLiteDialect uses ? placeholders.
	SQLiteDialect = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }}
)

// driverText converts a driver value to the text form the coercion pass
// expects. Booleans and NULL pass through untouched.
func driverText(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return val
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any, []any:
		return val
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return nil
		}
		return driverText(inner)
	default:
		return val
	}
}
