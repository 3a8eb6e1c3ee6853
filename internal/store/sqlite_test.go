package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoRowCount = errors.New("row count unavailable")

// countlessDriver accepts every statement but cannot report affected rows.
type countlessDriver struct{}

func (countlessDriver) Open(string) (driver.Conn, error) { return countlessConn{}, nil }

type countlessConn struct{}

func (countlessConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (countlessConn) Close() error                        { return nil }
func (countlessConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (countlessConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return countlessResult{}, nil
}

type countlessResult struct{}

func (countlessResult) LastInsertId() (int64, error) { return 0, nil }
func (countlessResult) RowsAffected() (int64, error) { return 0, errNoRowCount }

func init() {
	sql.Register("apikit-countless", countlessDriver{})
}

func TestSQLiteExecReportsRowsAffectedError(t *testing.T) {
	db, err := sql.Open("apikit-countless", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := &sqliteConn{db: db}
	_, err = conn.Exec(context.Background(), "DELETE FROM widgets")
	assert.ErrorIs(t, err, errNoRowCount)
}
