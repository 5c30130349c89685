// Package dbx holds the small database plumbing shared by every kernel
// repository: the DBTX handle abstraction and the WithTx transaction
// wrapper that repomanager builds its unit-of-work on.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the repositories are written against. Both
// *sql.DB and *sql.Tx satisfy it, so the same repository code serves the
// pooled path and the transactional path.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn against it, and commits on success
// or rolls back on error/panic. Panics are rethrown after rollback. The
// progression engines rely on this for their ledger-append-plus-mutation
// pairs, which must commit or vanish together.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
