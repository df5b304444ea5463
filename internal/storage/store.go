// Package storage defines the storage adapter hive's higher layers (event
// store, projections, reservation manager, cell tracker) depend on. The
// concrete implementation lives in internal/storage/sqlstore and is backed
// by an embedded Dolt database, grounded on the donor's
// internal/storage/dolt package generalized down to embedded-only mode
// (spec.md excludes multi-writer/server-mode distribution).
package storage

import (
	"context"
	"database/sql"
)

// Store is the minimal surface every higher layer needs: transactional SQL
// access plus lifecycle management. Modeled on the donor's DoltStore method
// set (execContext/queryContext/queryRowContext) but exposed as an interface
// so the event store and projections can be tested against a fake.
type Store interface {
	// Exec runs a statement outside of any caller-managed transaction.
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// Query runs a read query outside of any caller-managed transaction.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// QueryRow runs a single-row read query outside of any caller-managed
	// transaction.
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// WithTx runs fn inside a single database transaction, committing on a
	// nil return and rolling back otherwise. Event append + same-transaction
	// projection updates (spec §4.2) always go through WithTx.
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// Path reports the on-disk directory the store was opened against, for
	// diagnostics and the doctor-style health checks.
	Path() string

	// Close releases the embedded engine's filesystem locks. Safe to call
	// more than once.
	Close() error
}
