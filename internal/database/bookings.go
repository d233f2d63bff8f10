package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"
)

const bookingColumns = `id, professional_id, client_id, service_id, scheduled_for, duration_minutes,
	status, started_at, finished_at, note, created_at, updated_at, version`

func scanBooking(row scanner) (*models.Booking, error) {
	var (
		b                           models.Booking
		scheduled, created, updated int64
		started, finished           sql.NullInt64
		status                      string
	)
	err := row.Scan(&b.ID, &b.ProfessionalID, &b.ClientID, &b.ServiceID, &scheduled, &b.DurationMinutesSnapshot,
		&status, &started, &finished, &b.Note, &created, &updated, &b.Version)
	if err != nil {
		return nil, err
	}
	b.ScheduledFor = fromUnix(scheduled)
	b.Status = models.BookingStatus(status)
	b.StartedAt = timeFromNull(started)
	b.FinishedAt = timeFromNull(finished)
	b.CreatedAt = fromUnix(created)
	b.UpdatedAt = fromUnix(updated)
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()
	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CreateBooking checks for overlapping bookings and blocks and inserts the
// booking and its outbox events in the same immediate transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking, outbox domain.OutboxFunc) error {
	if booking.DurationMinutesSnapshot <= 0 {
		return apperr.New(apperr.KindInvalidInput, "booking duration must be positive")
	}
	start, end := unix(booking.ScheduledFor), unix(booking.EndsAt())

	return db.withTx(ctx, "create booking", func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM bookings
			WHERE professional_id = ? AND status != ? AND scheduled_for < ? AND ends_at > ? LIMIT 1`,
			booking.ProfessionalID, models.StatusCancelled, end, start).Scan(&id)
		if err == nil {
			return apperr.New(apperr.KindConflict, "time overlaps an existing booking")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check booking overlap in tx: %w", err)
		}

		err = tx.QueryRowContext(ctx, `SELECT id FROM calendar_blocks
			WHERE professional_id = ? AND starts_at < ? AND ends_at > ? LIMIT 1`,
			booking.ProfessionalID, end, start).Scan(&id)
		if err == nil {
			return apperr.New(apperr.KindConflict, "time overlaps an existing block")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check block overlap in tx: %w", err)
		}

		now := time.Now().UTC().Truncate(time.Second)
		if booking.Status == "" {
			booking.Status = models.StatusPending
		}
		result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
				professional_id, client_id, service_id, scheduled_for, ends_at, duration_minutes,
				status, started_at, finished_at, note, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			booking.ProfessionalID, booking.ClientID, booking.ServiceID, start, end, booking.DurationMinutesSnapshot,
			booking.Status, nullUnix(booking.StartedAt), nullUnix(booking.FinishedAt), booking.Note, unix(now), unix(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Wrap(apperr.KindConcurrentSession, "another session is already active", err)
			}
			return fmt.Errorf("failed to insert booking in tx: %w", err)
		}

		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}
		booking.ID = id
		booking.ScheduledFor = fromUnix(start)
		booking.CreatedAt = now
		booking.UpdatedAt = now
		booking.Version = 1
		return writeOutbox(ctx, tx, outbox)
	})
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "booking %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get booking", err)
	}
	return b, nil
}

// MutateBooking loads the booking and the professional's other running
// session, applies mutate and persists status and session timestamps under
// an optimistic version check, together with the outbox events, all in one
// transaction.
func (db *DB) MutateBooking(ctx context.Context, id int64, mutate domain.BookingMutation, outbox domain.OutboxFunc) (*models.Booking, error) {
	var updated *models.Booking
	err := db.withTx(ctx, "update booking", func(ctx context.Context, tx *sql.Tx) error {
		current, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Newf(apperr.KindNotFound, "booking %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load booking in tx: %w", err)
		}

		active, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
			WHERE professional_id = ? AND id != ? AND started_at IS NOT NULL AND finished_at IS NULL LIMIT 1`,
			current.ProfessionalID, id))
		if errors.Is(err, sql.ErrNoRows) {
			active = nil
		} else if err != nil {
			return fmt.Errorf("failed to load active session in tx: %w", err)
		}

		next, err := mutate(*current, active)
		if err != nil {
			return err
		}
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = time.Now()
		}

		result, err := tx.ExecContext(ctx, `UPDATE bookings
			SET status = ?, started_at = ?, finished_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			next.Status, nullUnix(next.StartedAt), nullUnix(next.FinishedAt), unix(next.UpdatedAt), id, current.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Wrap(apperr.KindConcurrentSession, "another session is already active", err)
			}
			return fmt.Errorf("failed to update booking in tx: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return apperr.Newf(apperr.KindConflict, "booking %d was modified concurrently", id)
		}

		updated, err = scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("failed to reload booking in tx: %w", err)
		}
		return writeOutbox(ctx, tx, outbox)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListBookingsInWindow returns non-cancelled bookings whose range
// intersects [from, to), ordered by start.
func (db *DB) ListBookingsInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, "list bookings", `SELECT `+bookingColumns+` FROM bookings
		WHERE professional_id = ? AND status != ? AND scheduled_for < ? AND ends_at > ?
		ORDER BY scheduled_for ASC`,
		professionalID, models.StatusCancelled, unix(to), unix(from))
}

// ListSessionCandidates returns running sessions plus open, not started
// bookings scheduled within [from, to].
func (db *DB) ListSessionCandidates(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, "list session candidates", `SELECT `+bookingColumns+` FROM bookings
		WHERE professional_id = ? AND status IN (?, ?) AND (
			(started_at IS NOT NULL AND finished_at IS NULL)
			OR (started_at IS NULL AND finished_at IS NULL AND scheduled_for BETWEEN ? AND ?)
		)
		ORDER BY scheduled_for ASC`,
		professionalID, models.StatusPending, models.StatusAccepted, unix(from), unix(to))
}

// ListBookingsForExport returns bookings of every status scheduled in [from, to).
func (db *DB) ListBookingsForExport(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, "list bookings for export", `SELECT `+bookingColumns+` FROM bookings
		WHERE professional_id = ? AND scheduled_for >= ? AND scheduled_for < ?
		ORDER BY scheduled_for ASC`,
		professionalID, unix(from), unix(to))
}

func (db *DB) queryBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	return bookings, nil
}
