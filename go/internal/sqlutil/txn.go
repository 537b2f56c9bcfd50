package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Run executes fn with queries bound to a fresh transaction.
// The tx commits when fn succeeds and rolls back otherwise.
func Run[T any](ctx context.Context, db *sql.DB, newQueries func(*sql.Tx) *T, fn func(q *T) error) error {
	return RunWithOptions(ctx, db, nil, newQueries, fn)
}

// RunWithOptions is Run with explicit isolation / read-only options.
func RunWithOptions[T any](
	ctx context.Context,
	db *sql.DB,
	opts *sql.TxOptions,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(newQueries(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
