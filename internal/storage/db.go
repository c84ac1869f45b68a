// Package storage implements the host-database edge the subscription store
// is built on: schema management, transactions, and the monotonic
// snapshot-version counter consumed by internal/subscriptions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, letting the repository
// functions in subscription_sets.go run unmodified against a live write
// transaction or directly against the database for frozen reads.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB wraps the SQLite connection pool and owns schema initialization.
type DB struct {
	sqldb *sql.DB
}

func OpenSQLite(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	// _pragma DSN parameters are applied by the driver to every new pooled
	// connection, unlike a plain PRAGMA exec which only affects the
	// connection it ran on. foreign_keys must be on on every connection
	// that runs a DELETE for ON DELETE CASCADE to fire.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Deliberately no SetMaxOpenConns(1): WAL mode lets readers run
	// concurrently with an open writer, and CurrentSnapshotVersion must be
	// able to acquire its own connection while a write transaction is in
	// flight on another one.
	return &DB{sqldb: sqldb}, nil
}

func (d *DB) Close() error {
	return d.sqldb.Close()
}

// CurrentSnapshotVersion reports the database's monotonic snapshot counter.
// SQLite's data_version pragma increments whenever the database file
// changes, including from other connections, which is exactly the
// monotonic snapshot-version counter this store needs for staleness
// checks and Refresh.
func (d *DB) CurrentSnapshotVersion(ctx context.Context) (int64, error) {
	var version int64
	row := d.sqldb.QueryRowContext(ctx, "PRAGMA data_version")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("read snapshot version: %w", err)
	}
	return version, nil
}

// WriteTx is a live write transaction. It tracks its own transact stage so
// that a commit (or any other mutating call) after the transaction has
// already been finalized surfaces as ErrWrongTransactionStage rather than
// a confusing driver error.
type WriteTx struct {
	tx   *sql.Tx
	done bool
}

func (d *DB) BeginWrite(ctx context.Context) (*WriteTx, error) {
	tx, err := d.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin write: %w", err)
	}
	return &WriteTx{tx: tx}, nil
}

// IsWriting reports whether the transaction is still open for mutation.
// MutableSubscriptionSet checks this before every staged edit and before
// commit.
func (w *WriteTx) IsWriting() bool {
	return !w.done
}

func (w *WriteTx) Commit() error {
	if w.done {
		return ErrWrongTransactionStage
	}
	w.done = true
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (w *WriteTx) Rollback() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.tx.Rollback()
}

// Querier exposes the transaction for use by the repository functions.
func (w *WriteTx) Querier() Querier {
	return w.tx
}

// Reader returns the Querier frozen reads should run against: the database
// directly. SQLite's own snapshot isolation gives any single query a
// consistent view, which is all any operation here ever needs (no
// operation reads at an arbitrary historical version; every read is either
// "now" or "the version this call just committed").
func (d *DB) Reader() Querier {
	return d.sqldb
}
