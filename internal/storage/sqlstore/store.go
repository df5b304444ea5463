// Package sqlstore implements storage.Store on top of an embedded Dolt
// database (github.com/dolthub/driver), generalized from the donor's
// internal/storage/dolt package. Scoped to embedded-only mode: hive runs as
// one process per project with a single writer (spec §5), so the donor's
// server-mode/federation/branch-per-worker/watchdog machinery has no home
// here and is deliberately left out (see DESIGN.md).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hiveswarm/hive/internal/storage/sqlstore/migrations"
)

// Database is the fixed Dolt database name hive creates within its embedded
// directory. One directory per project, so there is never a reason to vary
// it the way the donor parameterizes Config.Database.
const Database = "hive"

const currentSchemaVersion = 1

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

var tracer = otel.Tracer("github.com/hiveswarm/hive/storage/sqlstore")

var metrics struct {
	retryCount metric.Int64Counter
	casRetries metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/hiveswarm/hive/storage/sqlstore")
	metrics.retryCount, _ = m.Int64Counter("hive.db.retry_count",
		metric.WithDescription("SQL operations retried due to transient embedded-driver errors"),
		metric.WithUnit("{retry}"),
	)
	metrics.casRetries, _ = m.Int64Counter("hive.lock.cas_retry_count",
		metric.WithDescription("CAS lock acquisitions retried due to version conflicts"),
		metric.WithUnit("{retry}"),
	)
}

// isRetryableError reports whether err is a transient embedded-driver error
// worth retrying, mirroring the donor's isRetryableError but trimmed to the
// subset that can occur without a network (no server mode here).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "driver: bad connection"),
		strings.Contains(s, "invalid connection"),
		strings.Contains(s, "database is read only"),
		strings.Contains(s, "database is locked"):
		return true
	}
	return false
}

// Store implements storage.Store on an embedded Dolt database.
type Store struct {
	db        *sql.DB
	dbPath    string
	connector io.Closer
	closed    atomic.Bool
}

// Config configures Open.
type Config struct {
	// Path is the directory the embedded engine stores data in, typically
	// <hiveDir>/db.
	Path string

	// CommitterName/CommitterEmail are passed through to the embedded
	// driver's DSN; Dolt requires them even though hive never pushes or
	// pulls. Defaulted to a hive-branded identity if unset.
	CommitterName  string
	CommitterEmail string
}

func applyDefaults(cfg *Config) {
	if cfg.CommitterName == "" {
		cfg.CommitterName = "hive"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "hive@local"
	}
}

// Open creates the embedded Dolt directory if needed, runs schema
// initialization and migrations, and returns a ready Store. Grounded on the
// donor's newEmbeddedMode two-unit-of-work sequence (create database, then
// init schema) followed by opening the long-lived connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	applyDefaults(&cfg)
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlstore: database path is required")
	}

	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("sqlstore: database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("sqlstore: create database directory: %w", err)
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: absolute path: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s", absPath, cfg.CommitterName, cfg.CommitterEmail, Database)

	configureRetries := func(c *embedded.Config) {
		c.BackOff = newEmbeddedOpenBackoff()
	}

	if err := withEmbeddedDolt(ctx, initDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", Database))
		return err
	}); err != nil {
		return nil, fmt.Errorf("sqlstore: create database: %w", err)
	}

	if err := withEmbeddedDolt(ctx, dbDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
		if err := initSchemaOnDB(ctx, db); err != nil {
			return err
		}
		return migrations.Run(ctx, db)
	}); err != nil {
		return nil, fmt.Errorf("sqlstore: initialize schema: %w", err)
	}

	db, connector, err := openConnection(dbDSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("sqlstore: ping database: %w", err)
	}

	return &Store{db: db, dbPath: absPath, connector: connector}, nil
}

func openConnection(dsn string) (*sql.DB, io.Closer, error) {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: parse dsn: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: create connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Embedded Dolt is single-writer; one connection avoids internal lock
	// contention between pooled connections in the same process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, connector, nil
}

// withEmbeddedDolt opens a short-lived connection against dsn, runs fn, and
// always closes the connector afterward. Used for the two bootstrap units of
// work that must not hold the long-lived connection open.
func withEmbeddedDolt(ctx context.Context, dsn string, configure func(*embedded.Config), fn func(context.Context, *sql.DB) error) error {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("sqlstore: parse dsn: %w", err)
	}
	if configure != nil {
		configure(cfg)
	}
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("sqlstore: create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer func() {
		_ = db.Close()
		_ = connector.Close()
	}()
	return fn(ctx, db)
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	attempts := 0
	bo := newEmbeddedOpenBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		metrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func spanAttrs(op, query string) []attribute.KeyValue {
	if len(query) > 300 {
		query = query[:300] + "…"
	}
	return []attribute.KeyValue{
		attribute.String("db.system", "dolt"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", query),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Exec implements storage.Store.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := tracer.Start(ctx, "sqlstore.exec", trace.WithAttributes(spanAttrs("exec", query)...))
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	endSpan(span, err)
	return result, err
}

// Query implements storage.Store.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := tracer.Start(ctx, "sqlstore.query", trace.WithAttributes(spanAttrs("query", query)...))
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	endSpan(span, err)
	return rows, err
}

// QueryRow implements storage.Store.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	ctx, span := tracer.Start(ctx, "sqlstore.query_row", trace.WithAttributes(spanAttrs("query_row", query)...))
	defer span.End()
	return s.db.QueryRowContext(ctx, query, args...)
}

// WithTx implements storage.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, span := tracer.Start(ctx, "sqlstore.tx")
	defer func() { endSpan(span, nil) }()

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				span.RecordError(rbErr)
			}
			return err
		}
		return tx.Commit()
	})
}

// Path implements storage.Store.
func (s *Store) Path() string { return s.dbPath }

// Close implements storage.Store.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if cerr := s.connector.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
