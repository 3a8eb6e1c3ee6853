package store

import (
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotConnected is returned by every operation on a Store whose
	// connection could not be established, or was closed or lost.
	ErrNotConnected = errors.New("store is not connected")
	// ErrStoreClosed is the connect error of a store after Close.
	ErrStoreClosed = errors.New("store is closed")
	// ErrConnectionLost prefixes the connect error of a store whose driver
	// reported the connection gone.
	ErrConnectionLost = errors.New("database connection lost")
	// ErrStoreExists is returned when adding a second store under a key.
	ErrStoreExists = errors.New("there is already a store with this key")
	// ErrStoreNotExists is returned when selecting a missing store.
	ErrStoreNotExists = errors.New("there is no store with such a key")
	// ErrPlaceholderMismatch is returned when the number of ? placeholders
	// differs from the number of parameters.
	ErrPlaceholderMismatch = errors.New("placeholder count mismatch")
)

// IsClosed reports whether err means the connection, or the slot holding it,
// has been shut down.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, puddle.ErrClosedPool) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, net.ErrClosed) {
		return true
	}
	// database/sql and pgconn do not export these.
	msg := err.Error()
	return strings.Contains(msg, "sql: database is closed") || strings.Contains(msg, "conn closed")
}

// SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint failure from
// either supported driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

type closedReporter interface {
	IsClosed() bool
}

// connGone asks conn whether its driver has given up on it.
func connGone(conn Conn) bool {
	r, ok := conn.(closedReporter)
	return ok && r.IsClosed()
}
