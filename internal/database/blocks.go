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

// CreateBlock rejects any overlap with the professional's existing blocks.
// Overlaps are never merged.
func (db *DB) CreateBlock(ctx context.Context, block *models.CalendarBlock, outbox domain.OutboxFunc) error {
	if !block.EndsAt.After(block.StartsAt) {
		return apperr.New(apperr.KindInvalidRange, "block end must be after start")
	}
	start, end := unix(block.StartsAt), unix(block.EndsAt)

	return db.withTx(ctx, "create block", func(ctx context.Context, tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM calendar_blocks
			WHERE professional_id = ? AND starts_at < ? AND ends_at > ? LIMIT 1`,
			block.ProfessionalID, end, start).Scan(&id)
		if err == nil {
			return apperr.New(apperr.KindConflict, "time overlaps an existing block")
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check block overlap in tx: %w", err)
		}

		now := time.Now().UTC().Truncate(time.Second)
		result, err := tx.ExecContext(ctx, `INSERT INTO calendar_blocks (professional_id, starts_at, ends_at, note, created_at)
			VALUES (?, ?, ?, ?, ?)`, block.ProfessionalID, start, end, block.Note, unix(now))
		if err != nil {
			return fmt.Errorf("failed to insert block in tx: %w", err)
		}
		if block.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}
		block.StartsAt = fromUnix(start)
		block.EndsAt = fromUnix(end)
		block.CreatedAt = now
		return writeOutbox(ctx, tx, outbox)
	})
}

// DeleteBlock removes the block if professionalID owns it and reports
// whether it existed. A missing block is not an error.
func (db *DB) DeleteBlock(ctx context.Context, blockID, professionalID int64, outbox domain.OutboxFunc) (bool, error) {
	var deleted bool
	err := db.withTx(ctx, "delete block", func(ctx context.Context, tx *sql.Tx) error {
		deleted = false
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT professional_id FROM calendar_blocks WHERE id = ?`, blockID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load block in tx: %w", err)
		}
		if owner != professionalID {
			return apperr.New(apperr.KindForbidden, "only the owning professional can delete this block")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_blocks WHERE id = ?`, blockID); err != nil {
			return fmt.Errorf("failed to delete block in tx: %w", err)
		}
		deleted = true
		return writeOutbox(ctx, tx, outbox)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ListBlocksInWindow returns blocks intersecting [from, to) ordered by start.
func (db *DB) ListBlocksInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.CalendarBlock, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT id, professional_id, starts_at, ends_at, note, created_at
		FROM calendar_blocks
		WHERE professional_id = ? AND starts_at < ? AND ends_at > ?
		ORDER BY starts_at ASC`, professionalID, unix(to), unix(from))
	if err != nil {
		return nil, classify(ctx, "list blocks", err)
	}
	defer rows.Close()

	blocks := make([]*models.CalendarBlock, 0)
	for rows.Next() {
		var (
			b                   models.CalendarBlock
			start, end, created int64
		)
		if err := rows.Scan(&b.ID, &b.ProfessionalID, &start, &end, &b.Note, &created); err != nil {
			return nil, classify(ctx, "scan block", err)
		}
		b.StartsAt, b.EndsAt, b.CreatedAt = fromUnix(start), fromUnix(end), fromUnix(created)
		blocks = append(blocks, &b)
	}
	return blocks, classify(ctx, "list blocks", rows.Err())
}
