package postgres

import (
	"context"
	"errors"
	"fmt"

	"tovis/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// withTx runs fn in a SERIALIZABLE transaction bounded by the operation
// timeout. A serialization failure is retried once and then reported as a
// conflict.
func (s *Store) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
		if err == nil || !isRetryable(err) || ctx.Err() != nil {
			break
		}
		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Serialization failure")
	}
	if isRetryable(err) && ctx.Err() == nil {
		return apperr.Wrap(apperr.KindConflict, "the calendar changed concurrently, please retry", err)
	}
	return classify(ctx, op, err)
}

// lockProfessional serializes conflict-checked writes of one professional
// until the transaction ends.
func lockProfessional(ctx context.Context, tx pgx.Tx, professionalID int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, professionalID)
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	code := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Wrap(apperr.KindStorageTimeout, op+" timed out", err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, op+": not found", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
