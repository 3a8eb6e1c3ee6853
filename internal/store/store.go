package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"

	"apikit/internal/record"
)

// Connection defaults.
const (
	DefaultPostgresPort = 5432
	DefaultCharset      = "UTF8"
	DefaultQueryTimeout = 5 * time.Second
)

const connectedMessage = "You are successfully connected!"

// Config identifies a database by its connection parameters.
type Config struct {
	Driver          string
	DSN             string
	Host            string
	User            string
	Password        string
	Database        string
	Port            int
	Charset         string
	Path            string
	ApplicationName string
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithName labels the store in logs and errors.
func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithQueryTimeout bounds every query issued without a caller deadline.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithLogger injects the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store owns exactly one database connection for its lifetime. The
// connection sits in a single-slot pool so concurrent requests take turns
// with it. Once the connection is closed or lost the store stays
// disconnected.
type Store struct {
	name    string
	slot    *puddle.Pool[Conn]
	dialect Dialect
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	connErr  error
	closeErr error
}

// New wraps an established connection.
func New(conn Conn, opts ...Option) *Store {
	s := &Store{
		timeout: DefaultQueryTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if conn == nil {
		s.connErr = errors.New("no connection configured")
		return s
	}
	s.dialect = conn.Dialect()

	handed := false
	slot, err := puddle.NewPool(&puddle.Config[Conn]{
		Constructor: func(context.Context) (Conn, error) {
			// The slot never redials: a Store keeps the connection it
			// was opened with.
			if handed {
				return nil, ErrConnectionLost
			}
			handed = true
			return conn, nil
		},
		Destructor: func(c Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultQueryTimeout)
			defer cancel()
			err := c.Close(ctx)
			s.mu.Lock()
			s.closeErr = err
			s.mu.Unlock()
		},
		MaxSize: 1,
	})
	if err == nil {
		err = slot.CreateResource(context.Background())
	}
	if err != nil {
		_ = conn.Close(context.Background())
		s.connErr = fmt.Errorf("prepare connection: %w", err)
		return s
	}
	s.slot = slot
	return s
}

// Unavailable returns a store that reports connErr from every operation.
func Unavailable(connErr error, opts ...Option) *Store {
	s := New(nil, opts...)
	if connErr != nil {
		s.connErr = connErr
	}
	return s
}

// Open dials the database described by cfg. A failed connection does not
// return an error: the store reports it through Connected and ConnectError
// so the dispatcher can answer with a structured response.
func Open(ctx context.Context, cfg Config, opts ...Option) *Store {
	if cfg.QueryTimeout > 0 {
		opts = append(opts, WithQueryTimeout(cfg.QueryTimeout))
	}
	var (
		conn Conn
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		conn, err = OpenSQLite(ctx, cfg.Path)
	case "postgres", "postgresql", "":
		conn, err = DialPostgres(ctx, cfg)
	default:
		err = fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return Unavailable(err, opts...)
	}
	return New(conn, opts...)
}

// Name returns the store label.
func (s *Store) Name() string {
	return s.name
}

// Connected reports whether the connection was established and has not
// since been closed or lost.
func (s *Store) Connected() bool {
	if s == nil || s.slot == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connErr == nil
}

// ConnectError returns the connection failure text.
func (s *Store) ConnectError() string {
	if s.Connected() {
		return connectedMessage
	}
	if s == nil {
		return ErrNotConnected.Error()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.connErr == nil {
		return ErrNotConnected.Error()
	}
	return s.connErr.Error()
}

// disconnect records why the store stopped being usable. The first reason
// wins.
func (s *Store) disconnect(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr == nil {
		s.connErr = reason
	}
}

// Dialect returns the SQL dialect of the connection. It reports false for
// an unavailable store.
func (s *Store) Dialect() (Dialect, bool) {
	if !s.Connected() {
		return Dialect{}, false
	}
	return s.dialect, true
}

// Select returns the store itself for index 0, letting a single Store stand
// in wherever a collection is accepted.
func (s *Store) Select(index int) (*Store, error) {
	if index != 0 {
		return nil, fmt.Errorf("select %d: %w", index, ErrStoreNotExists)
	}
	return s, nil
}

// Query runs a SELECT with positional ? parameters and returns coerced rows.
func (s *Store) Query(ctx context.Context, query string, params ...any) ([]record.Object, error) {
	rows, err := s.query(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]record.Object, rows.Len())
	for i := range out {
		out[i] = record.CoerceRow(rows.Row(i))
	}
	return out, nil
}

// FindOne returns the first row of table matching where, or an absent
// record when nothing matches.
func (s *Store) FindOne(ctx context.Context, table, where string, params ...any) (*record.Record, error) {
	rows, err := s.query(ctx, selectFrom("*", table, where), params)
	if err != nil {
		return nil, err
	}
	if rows.Len() == 0 {
		return record.Absent(table), nil
	}
	return record.FromRow(table, record.CoerceRow(rows.Row(0)), rows.Columns), nil
}

// Count returns the number of rows of table matching where.
func (s *Store) Count(ctx context.Context, table, where string, params ...any) (int64, error) {
	rows, err := s.query(ctx, selectFrom("COUNT(*)", table, where), params)
	if err != nil {
		return 0, err
	}
	if rows.Len() == 0 || len(rows.Values[0]) == 0 {
		return 0, nil
	}
	switch v := record.Coerce(record.Of(rows.Values[0][0])).(type) {
	case record.Int:
		return int64(v), nil
	case record.Float:
		return int64(v), nil
	default:
		return 0, nil
	}
}

// Dispense returns a blank record for table.
func (s *Store) Dispense(table string) *record.Record {
	return record.New(table)
}

// Persist inserts r when its identity is unset, populating the identity
// from the database, and otherwise updates the fields assigned since r was
// loaded, keyed by the identity.
func (s *Store) Persist(ctx context.Context, r *record.Record) error {
	if r == nil {
		return errors.New("persist: nil record")
	}
	if r.Table() == "" {
		return errors.New("persist: record has no table")
	}
	var err error
	if id, ok := r.ID(); ok {
		err = s.update(ctx, r, id)
	} else {
		err = s.insert(ctx, r)
	}
	if err == nil {
		r.MarkClean()
	}
	return err
}

// Exec runs a statement that returns no rows, such as schema setup.
func (s *Store) Exec(ctx context.Context, query string, params ...any) (int64, error) {
	var affected int64
	err := s.withConn(ctx, func(ctx context.Context, conn Conn) error {
		bound, err := rebind(conn.Dialect(), query, len(params))
		if err != nil {
			return err
		}
		affected, err = conn.Exec(ctx, bound, bindArgs(params)...)
		return err
	})
	return affected, err
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(ctx context.Context, conn Conn) error {
		return conn.Ping(ctx)
	})
}

// Close waits for the running query, releases the connection and marks the
// store disconnected. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.slot == nil {
		return nil
	}
	s.disconnect(ErrStoreClosed)
	done := make(chan struct{})
	go func() {
		s.slot.Close()
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("close %s: %w", s.name, ctx.Err())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closeErr
	s.closeErr = nil
	return err
}

func (s *Store) insert(ctx context.Context, r *record.Record) error {
	var (
		cols []string
		args []any
	)
	for _, name := range r.Fields() {
		if name == record.IDField {
			continue
		}
		cols = append(cols, name)
		args = append(args, bindValue(r.Get(name)))
	}

	table := quoteIdent(r.Table())
	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", table, quoteIdent(record.IDField))
	} else {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = quoteIdent(col)
			marks[i] = "?"
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			table, strings.Join(quoted, ", "), strings.Join(marks, ", "), quoteIdent(record.IDField))
	}

	rows, err := s.query(ctx, query, args)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", r.Table(), err)
	}
	if rows.Len() == 0 || len(rows.Values[0]) == 0 {
		return fmt.Errorf("insert into %s: no identity returned", r.Table())
	}
	id, ok := record.Coerce(record.Of(rows.Values[0][0])).(record.Int)
	if !ok {
		return fmt.Errorf("insert into %s: non-integer identity %v", r.Table(), rows.Values[0][0])
	}
	r.SetID(int64(id))
	return nil
}

func (s *Store) update(ctx context.Context, r *record.Record, id int64) error {
	var (
		sets []string
		args []any
	)
	for _, name := range r.Dirty() {
		if name == record.IDField {
			continue
		}
		sets = append(sets, quoteIdent(name)+" = ?")
		args = append(args, bindValue(r.Get(name)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(r.Table()), strings.Join(sets, ", "), quoteIdent(record.IDField))
	if _, err := s.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s %d: %w", r.Table(), id, err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, params []any) (*Rows, error) {
	var rows *Rows
	err := s.withConn(ctx, func(ctx context.Context, conn Conn) error {
		bound, err := rebind(conn.Dialect(), query, len(params))
		if err != nil {
			return err
		}
		rows, err = conn.Query(ctx, bound, bindArgs(params)...)
		if err != nil {
			s.logger.DebugContext(ctx, "query failed", "store", s.name, "query", bound, "error", err)
		}
		return err
	})
	return rows, err
}

// withConn takes the connection from its slot and applies the query timeout
// when ctx carries no deadline. A closed or dropped connection disconnects
// the store for good.
func (s *Store) withConn(ctx context.Context, fn func(context.Context, Conn) error) error {
	if !s.Connected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, s.ConnectError())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.slot.Acquire(ctx)
	if err != nil {
		if IsClosed(err) {
			return fmt.Errorf("%w: %s", ErrNotConnected, s.ConnectError())
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer res.Release()

	conn := res.Value()
	err = fn(ctx, conn)
	if err != nil && (IsClosed(err) || connGone(conn)) {
		s.logger.WarnContext(ctx, "database connection lost", "store", s.name, "error", err)
		s.disconnect(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return err
}

func selectFrom(what, table, where string) string {
	query := fmt.Sprintf("SELECT %s FROM %s", what, quoteIdent(table))
	if where = strings.TrimSpace(where); where != "" {
		query += " " + where
	}
	return query
}

func bindArgs(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		if v, ok := p.(record.Value); ok {
			out[i] = bindValue(v)
			continue
		}
		out[i] = p
	}
	return out
}

// bindValue converts a record value into a driver argument. Composite
// values are stored as JSON text and Null as SQL NULL.
func bindValue(v record.Value) any {
	switch val := v.(type) {
	case nil, record.Null:
		return nil
	case record.Bool:
		return bool(val)
	case record.Int:
		return int64(val)
	case record.Float:
		return float64(val)
	case record.String:
		return string(val)
	case record.Array, record.Object:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(encoded)
	default:
		return v.Any()
	}
}
