package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type postgresConn struct {
	conn *pgx.Conn
}

// DialPostgres opens a single Postgres connection from discrete connection
// parameters. Unset fields fall back to the libpq environment defaults.
func DialPostgres(ctx context.Context, cfg Config) (Conn, error) {
	connCfg, err := pgx.ParseConfig(strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.Host != "" {
		connCfg.Host = cfg.Host
	}
	if cfg.Port > 0 {
		connCfg.Port = uint16(cfg.Port)
	}
	if cfg.User != "" {
		connCfg.User = cfg.User
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}
	if cfg.Database != "" {
		connCfg.Database = cfg.Database
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = make(map[string]string)
	}
	charset := cfg.Charset
	if charset == "" {
		charset = DefaultCharset
	}
	connCfg.RuntimeParams["client_encoding"] = charset
	if cfg.ApplicationName != "" {
		connCfg.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s:%d: %w", connCfg.Host, connCfg.Port, err)
	}
	return &postgresConn{conn: conn}, nil
}

func (c *postgresConn) Dialect() Dialect {
	return PostgresDialect
}

func (c *postgresConn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, describePgError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Rows{Columns: make([]string, len(fields))}
	for i, field := range fields {
		result.Columns[i] = field.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read postgres row: %w", err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = driverText(v)
		}
		result.Values = append(result.Values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, describePgError(err)
	}
	return result, nil
}

func (c *postgresConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, describePgError(err)
	}
	return tag.RowsAffected(), nil
}

func (c *postgresConn) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *postgresConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *postgresConn) Close(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return c.conn.Close(ctx)
}

// describePgError prefixes server errors with their SQLSTATE code.
func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("postgres %s (%s): %w", pgErr.Code, pgErr.Message, err)
	}
	return err
}
