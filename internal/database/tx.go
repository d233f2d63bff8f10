package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tovis/internal/apperr"

	"github.com/mattn/go-sqlite3"
)

func (db *DB) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.timeout)
}

// withTx runs fn in a transaction bounded by the operation timeout. A busy
// or locked database is retried once and then reported as a conflict.
func (db *DB) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil || !isBusy(err) || ctx.Err() != nil {
			break
		}
		db.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Transaction busy")
	}
	if isBusy(err) && ctx.Err() == nil {
		return apperr.Wrap(apperr.KindConflict, "the calendar changed concurrently, please retry", err)
	}
	return classify(ctx, op, err)
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// classify turns driver errors into the shared taxonomy. Errors that are
// already classified pass through unchanged.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindStorageTimeout, op+" timed out", err)
	}
	if isBusy(err) {
		return apperr.Wrap(apperr.KindStorageTimeout, op+": database busy", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, op+": not found", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
