package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		params  int
		want    string
	}{
		{
			name:    "postgres positional",
			dialect: PostgresDialect,
			query:   "SELECT * FROM t WHERE a = ? AND b = ?",
			params:  2,
			want:    "SELECT * FROM t WHERE a = $1 AND b = $2",
		},
		{
			name:    "sqlite keeps question marks",
			dialect: SQLiteDialect,
			query:   "SELECT * FROM t WHERE a = ?",
			params:  1,
			want:    "SELECT * FROM t WHERE a = ?",
		},
		{
			name:    "literal question mark untouched",
			dialect: PostgresDialect,
			query:   "SELECT '?', 'it''s ?' FROM t WHERE a = ?",
			params:  1,
			want:    "SELECT '?', 'it''s ?' FROM t WHERE a = $1",
		},
		{
			name:    "backticks become double quotes",
			dialect: PostgresDialect,
			query:   "WHERE `user_id` = ? AND \"x?\" = 1",
			params:  1,
			want:    "WHERE \"user_id\" = $1 AND \"x?\" = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rebind(tt.dialect, tt.query, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRebind_Errors(t *testing.T) {
	_, err := rebind(PostgresDialect, "SELECT ? , ?", 1)
	assert.ErrorIs(t, err, ErrPlaceholderMismatch)

	_, err = rebind(PostgresDialect, "SELECT 'open", 0)
	assert.Error(t, err)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"access_tokens"`, quoteIdent("access_tokens"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
