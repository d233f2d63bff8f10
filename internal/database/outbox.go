package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"
)

const outboxColumns = `id, event_type, booking_id, professional_id, payload, status, retry_count, last_error,
	created_at, updated_at, next_retry_at, delivered_sinks`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()
	return classify(ctx, "create outbox event", insertOutboxEvent(ctx, db, event))
}

// writeOutbox renders the events of a write and inserts them in its
// transaction.
func writeOutbox(ctx context.Context, tx *sql.Tx, outbox domain.OutboxFunc) error {
	if outbox == nil {
		return nil
	}
	events, err := outbox()
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := insertOutboxEvent(ctx, tx, e); err != nil {
			return fmt.Errorf("failed to insert outbox event in tx: %w", err)
		}
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, ex execer, event *models.OutboxEvent) error {
	now := time.Now().UTC().Truncate(time.Second)
	if event.Status == "" {
		event.Status = models.OutboxStatusPending
	}
	result, err := ex.ExecContext(ctx, `INSERT INTO outbox_events (
			event_type, booking_id, professional_id, payload, status, retry_count, last_error, created_at, updated_at,
			next_retry_at, delivered_sinks
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventType, event.BookingID, event.ProfessionalID, event.Payload, event.Status, event.RetryCount,
		event.LastError, unix(now), unix(now), nullUnix(event.NextRetryAt), strings.Join(event.DeliveredSinks, ","))
	if err != nil {
		return err
	}
	if event.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	event.CreatedAt = now
	event.UpdatedAt = now
	return nil
}

func scanOutboxEvent(row scanner) (*models.OutboxEvent, error) {
	var (
		e                models.OutboxEvent
		lastErr          sql.NullString
		created, updated int64
		nextRetry        sql.NullInt64
		delivered        string
	)
	err := row.Scan(&e.ID, &e.EventType, &e.BookingID, &e.ProfessionalID, &e.Payload, &e.Status, &e.RetryCount,
		&lastErr, &created, &updated, &nextRetry, &delivered)
	if err != nil {
		return nil, err
	}
	if lastErr.Valid {
		e.LastError = &lastErr.String
	}
	e.CreatedAt = fromUnix(created)
	e.UpdatedAt = fromUnix(updated)
	e.NextRetryAt = timeFromNull(nextRetry)
	if delivered != "" {
		e.DeliveredSinks = strings.Split(delivered, ",")
	}
	return &e, nil
}

func (db *DB) GetOutboxEvent(ctx context.Context, id int64) (*models.OutboxEvent, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	e, err := scanOutboxEvent(db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "outbox event %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get outbox event", err)
	}
	return e, nil
}

// GetPendingOutboxEvents returns pending events and retries that are due.
func (db *DB) GetPendingOutboxEvents(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	return db.queryOutbox(ctx, "get pending outbox events", `SELECT `+outboxColumns+` FROM outbox_events
		WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.OutboxStatusPending, models.OutboxStatusRetry, unix(time.Now()), limit)
}

func (db *DB) GetFailedOutboxEvents(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	return db.queryOutbox(ctx, "get failed outbox events", `SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = ? ORDER BY updated_at DESC, id DESC LIMIT ?`, models.OutboxStatusFailed, limit)
}

func (db *DB) queryOutbox(ctx context.Context, op, query string, args ...any) ([]*models.OutboxEvent, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, args...)
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

func (db *DB) UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	var lastErr sql.NullString
	if errMsg != "" {
		lastErr = sql.NullString{String: errMsg, Valid: true}
	}
	now := unix(time.Now())

	var (
		query string
		args  []interface{}
	)
	switch status {
	case models.OutboxStatusRetry:
		query = `UPDATE outbox_events SET status = ?, last_error = ?, next_retry_at = ?, updated_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, nullUnix(nextRetryAt), now, id}
	default:
		query = `UPDATE outbox_events SET status = ?, last_error = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nullUnix(nextRetryAt), now, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return classify(ctx, "update outbox event", err)
	}
	return nil
}

// MarkOutboxSinkDelivered records that sink accepted the event, so retries
// skip it.
func (db *DB) MarkOutboxSinkDelivered(ctx context.Context, id int64, sink string) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	_, err := db.ExecContext(ctx, `UPDATE outbox_events
		SET delivered_sinks = CASE WHEN delivered_sinks = '' THEN ? ELSE delivered_sinks || ',' || ? END, updated_at = ?
		WHERE id = ? AND instr(',' || delivered_sinks || ',', ',' || ? || ',') = 0`,
		sink, sink, unix(time.Now()), id, sink)
	return classify(ctx, "mark outbox sink delivered", err)
}
