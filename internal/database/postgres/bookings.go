package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/jackc/pgx/v5"
)

const bookingColumns = `id, professional_id, client_id, service_id, scheduled_for, duration_minutes,
	status, started_at, finished_at, note, created_at, updated_at, version`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var (
		b      models.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.ProfessionalID, &b.ClientID, &b.ServiceID, &b.ScheduledFor, &b.DurationMinutesSnapshot,
		&status, &b.StartedAt, &b.FinishedAt, &b.Note, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	b.ScheduledFor = utc(b.ScheduledFor)
	b.StartedAt = utcPtr(b.StartedAt)
	b.FinishedAt = utcPtr(b.FinishedAt)
	b.CreatedAt = utc(b.CreatedAt)
	b.UpdatedAt = utc(b.UpdatedAt)
	return &b, nil
}

func (s *Store) CreateBooking(ctx context.Context, booking *models.Booking, outbox domain.OutboxFunc) error {
	if booking.DurationMinutesSnapshot <= 0 {
		return apperr.New(apperr.KindInvalidInput, "booking duration must be positive")
	}
	start, end := booking.ScheduledFor.UTC(), booking.EndsAt().UTC()

	return s.withTx(ctx, "create booking", func(ctx context.Context, tx pgx.Tx) error {
		if err := lockProfessional(ctx, tx, booking.ProfessionalID); err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings
			WHERE professional_id = $1 AND status <> $2 AND scheduled_for < $3 AND ends_at > $4)`,
			booking.ProfessionalID, models.StatusCancelled, end, start).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.KindConflict, "time overlaps an existing booking")
		}
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calendar_blocks
			WHERE professional_id = $1 AND starts_at < $2 AND ends_at > $3)`,
			booking.ProfessionalID, end, start).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.KindConflict, "time overlaps an existing block")
		}

		if booking.Status == "" {
			booking.Status = models.StatusPending
		}
		err := tx.QueryRow(ctx, `INSERT INTO bookings (
				professional_id, client_id, service_id, scheduled_for, ends_at, duration_minutes,
				status, started_at, finished_at, note
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at, version`,
			booking.ProfessionalID, booking.ClientID, booking.ServiceID, start, end, booking.DurationMinutesSnapshot,
			booking.Status, booking.StartedAt, booking.FinishedAt, booking.Note,
		).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt, &booking.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Wrap(apperr.KindConcurrentSession, "another session is already active", err)
			}
			return fmt.Errorf("insert booking: %w", err)
		}
		booking.ScheduledFor = start
		booking.CreatedAt = utc(booking.CreatedAt)
		booking.UpdatedAt = utc(booking.UpdatedAt)
		return writeOutbox(ctx, tx, outbox)
	})
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "booking %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get booking", err)
	}
	return b, nil
}

func (s *Store) MutateBooking(ctx context.Context, id int64, mutate domain.BookingMutation, outbox domain.OutboxFunc) (*models.Booking, error) {
	var updated *models.Booking
	err := s.withTx(ctx, "update booking", func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Newf(apperr.KindNotFound, "booking %d not found", id)
		}
		if err != nil {
			return err
		}
		if err := lockProfessional(ctx, tx, current.ProfessionalID); err != nil {
			return err
		}

		active, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings
			WHERE professional_id = $1 AND id <> $2 AND started_at IS NOT NULL AND finished_at IS NULL LIMIT 1`,
			current.ProfessionalID, id))
		if errors.Is(err, pgx.ErrNoRows) {
			active = nil
		} else if err != nil {
			return err
		}

		next, err := mutate(*current, active)
		if err != nil {
			return err
		}
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = time.Now()
		}

		updated, err = scanBooking(tx.QueryRow(ctx, `UPDATE bookings
			SET status = $1, started_at = $2, finished_at = $3, updated_at = $4, version = version + 1
			WHERE id = $5 AND version = $6
			RETURNING `+bookingColumns,
			next.Status, next.StartedAt, next.FinishedAt, next.UpdatedAt, id, current.Version))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Newf(apperr.KindConflict, "booking %d was modified concurrently", id)
		}
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConcurrentSession, "another session is already active", err)
		}
		if err != nil {
			return err
		}
		return writeOutbox(ctx, tx, outbox)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListBookingsInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	return s.queryBookings(ctx, "list bookings", `SELECT `+bookingColumns+` FROM bookings
		WHERE professional_id = $1 AND status <> $2 AND scheduled_for < $3 AND ends_at > $4
		ORDER BY scheduled_for ASC`,
		professionalID, models.StatusCancelled, to, from)
}

func (s *Store) ListSessionCandidates(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	return s.queryBookings(ctx, "list session candidates", `SELECT `+bookingColumns+` FROM bookings
		WHERE professional_id = $1 AND status IN ($2, $3) AND (
			(started_at IS NOT NULL AND finished_at IS NULL)
			OR (started_at IS NULL AND finished_at IS NULL AND scheduled_for BETWEEN $4 AND $5)
		)
		ORDER BY scheduled_for ASC`,
		professionalID, models.StatusPending, models.StatusAccepted, from, to)
}

func (s *Store) ListBookingsForExport(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	return s.queryBookings(ctx, "list bookings for export", `SELECT `+bookingColumns+` FROM bookings
		WHERE professional_id = $1 AND scheduled_for >= $2 AND scheduled_for < $3
		ORDER BY scheduled_for ASC`,
		professionalID, from, to)
}

func (s *Store) queryBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classify(ctx, op, err)
		}
		bookings = append(bookings, b)
	}
	return bookings, classify(ctx, op, rows.Err())
}
