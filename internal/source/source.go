// Package source reads the legacy HigherLogic database.
//
// Three drivers are supported: "sqlserver" (the production host, via
// go-mssqldb), "mysql" (restored dumps) and "sqlite3" (fixtures). Queries are
// written with "?" placeholders and rebound per dialect. Every query is
// retried with exponential backoff on transient errors.
package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// Options configures the legacy connection.
type Options struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// Prefix is prepended to every legacy table name, e.g. "dbo.".
	Prefix string
	// RetryMaxElapsed bounds retries of a single query. Zero disables retry.
	RetryMaxElapsed time.Duration
}

// DB wraps a read-only legacy connection.
type DB struct {
	db       *sql.DB
	dialect  Dialect
	prefix   string
	maxRetry time.Duration
}

// Open connects to the legacy database and pings it.
func Open(ctx context.Context, opts Options) (*DB, error) {
	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to legacy database: %w", err)
	}

	return Wrap(db, dialect, opts.Prefix, opts.RetryMaxElapsed), nil
}

// Wrap adapts an existing connection. Used by tests with sqlite fixtures.
func Wrap(db *sql.DB, dialect Dialect, prefix string, retry time.Duration) *DB {
	return &DB{db: db, dialect: dialect, prefix: prefix, maxRetry: retry}
}

// Close closes the connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Dialect returns the SQL dialect of the connection.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Table returns the prefixed legacy table name.
func (d *DB) Table(name string) string {
	return d.prefix + name
}

// Query runs a SELECT and materializes every row.
func (d *DB) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	bound := d.dialect.Rebind(query)
	var out []Record

	err := d.retry(ctx, func() error {
		rows, err := d.db.QueryContext(ctx, bound, args...)
		if err != nil {
			return classify(err)
		}
		recs, err := scanRecords(rows)
		if err != nil {
			return classify(err)
		}
		out = recs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("legacy query failed: %w", err)
	}
	return out, nil
}

// Count runs a SELECT COUNT(*) style query and returns the single value.
func (d *DB) Count(ctx context.Context, query string, args ...any) (int64, error) {
	recs, err := d.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 || len(recs[0].columns) == 0 {
		return 0, nil
	}
	n, _ := recs[0].Int64(recs[0].columns[0])
	return n, nil
}

func (d *DB) retry(ctx context.Context, op backoff.Operation) error {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if d.maxRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = d.maxRetry
		b = exp
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	index := buildIndex(cols)

	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, Record{columns: cols, index: index, values: vals})
	}
	return out, rows.Err()
}

// classify marks non-transient errors permanent so backoff stops.
func classify(err error) error {
	if IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// IsTransient reports whether err is worth retrying: dropped connections,
// timeouts, deadlock victims and sqlite lock contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"i/o timeout",
		"bad connection",
		"deadlock victim",
		"database is locked",
		"server closed the connection",
		"invalid connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func buildDSN(opts Options) (string, error) {
	switch opts.Driver {
	case "sqlserver":
		host := opts.Host
		if opts.Port > 0 {
			host = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
		}
		u := &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(opts.User, opts.Password),
			Host:   host,
		}
		q := url.Values{}
		q.Set("database", opts.Database)
		q.Set("app name", "hlmigrate")
		u.RawQuery = q.Encode()
		return u.String(), nil
	case "mysql":
		port := opts.Port
		if port == 0 {
			port = 3306
		}
		cfg := mysql.NewConfig()
		cfg.User = opts.User
		cfg.Passwd = opts.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(port))
		cfg.DBName = opts.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case "sqlite3":
		if opts.Database == "" {
			return "", fmt.Errorf("sqlite3 source requires a database path")
		}
		return opts.Database, nil
	default:
		return "", fmt.Errorf("unsupported legacy driver %q", opts.Driver)
	}
}
