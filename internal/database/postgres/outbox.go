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

const outboxColumns = `id, event_type, booking_id, professional_id, payload::text, status, retry_count, last_error,
	created_at, updated_at, next_retry_at, delivered_sinks`

func scanOutboxEvent(row pgx.Row) (*models.OutboxEvent, error) {
	var e models.OutboxEvent
	err := row.Scan(&e.ID, &e.EventType, &e.BookingID, &e.ProfessionalID, &e.Payload, &e.Status, &e.RetryCount,
		&e.LastError, &e.CreatedAt, &e.UpdatedAt, &e.NextRetryAt, &e.DeliveredSinks)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, e.UpdatedAt, e.NextRetryAt = utc(e.CreatedAt), utc(e.UpdatedAt), utcPtr(e.NextRetryAt)
	return &e, nil
}

// querier is the part of pgxpool.Pool and pgx.Tx used for outbox inserts.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return classify(ctx, "create outbox event", insertOutboxEvent(ctx, s.pool, event))
}

// writeOutbox renders the events of a write and inserts them in its
// transaction.
func writeOutbox(ctx context.Context, tx pgx.Tx, outbox domain.OutboxFunc) error {
	if outbox == nil {
		return nil
	}
	events, err := outbox()
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := insertOutboxEvent(ctx, tx, e); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, q querier, event *models.OutboxEvent) error {
	if event.Status == "" {
		event.Status = models.OutboxStatusPending
	}
	delivered := event.DeliveredSinks
	if delivered == nil {
		delivered = []string{}
	}
	err := q.QueryRow(ctx, `INSERT INTO outbox_events (
			event_type, booking_id, professional_id, payload, status, retry_count, last_error, next_retry_at, delivered_sinks
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9) RETURNING id, created_at, updated_at`,
		event.EventType, event.BookingID, event.ProfessionalID, event.Payload, event.Status, event.RetryCount,
		event.LastError, event.NextRetryAt, delivered).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return err
	}
	event.CreatedAt, event.UpdatedAt = utc(event.CreatedAt), utc(event.UpdatedAt)
	return nil
}

func (s *Store) GetOutboxEvent(ctx context.Context, id int64) (*models.OutboxEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	e, err := scanOutboxEvent(s.pool.QueryRow(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "outbox event %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get outbox event", err)
	}
	return e, nil
}

func (s *Store) GetPendingOutboxEvents(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	return s.queryOutbox(ctx, "get pending outbox events", `SELECT `+outboxColumns+` FROM outbox_events
		WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC, id ASC LIMIT $3`,
		models.OutboxStatusPending, models.OutboxStatusRetry, limit)
}

func (s *Store) GetFailedOutboxEvents(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	return s.queryOutbox(ctx, "get failed outbox events", `SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = $1 ORDER BY updated_at DESC, id DESC LIMIT $2`, models.OutboxStatusFailed, limit)
}

func (s *Store) queryOutbox(ctx context.Context, op, query string, args ...any) ([]*models.OutboxEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	defer rows.Close()

	events := make([]*models.OutboxEvent, 0)
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, classify(ctx, op, err)
		}
		events = append(events, e)
	}
	return events, classify(ctx, op, rows.Err())
}

func (s *Store) UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}
	increment := 0
	if status == models.OutboxStatusRetry {
		increment = 1
	}
	_, err := s.pool.Exec(ctx, `UPDATE outbox_events
		SET status = $1, last_error = $2, next_retry_at = $3, updated_at = now(), retry_count = retry_count + $4
		WHERE id = $5`, status, lastErr, nextRetryAt, increment, id)
	return classify(ctx, "update outbox event", err)
}

func (s *Store) MarkOutboxSinkDelivered(ctx context.Context, id int64, sink string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `UPDATE outbox_events
		SET delivered_sinks = array_append(delivered_sinks, $1), updated_at = now()
		WHERE id = $2 AND NOT ($1 = ANY(delivered_sinks))`, sink, id)
	return classify(ctx, "mark outbox sink delivered", err)
}
