package postgres

import (
	"context"
	"errors"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateBlock(ctx context.Context, block *models.CalendarBlock, outbox domain.OutboxFunc) error {
	if !block.EndsAt.After(block.StartsAt) {
		return apperr.New(apperr.KindInvalidRange, "block end must be after start")
	}
	start, end := block.StartsAt.UTC(), block.EndsAt.UTC()

	return s.withTx(ctx, "create block", func(ctx context.Context, tx pgx.Tx) error {
		if err := lockProfessional(ctx, tx, block.ProfessionalID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calendar_blocks
			WHERE professional_id = $1 AND starts_at < $2 AND ends_at > $3)`,
			block.ProfessionalID, end, start).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.KindConflict, "time overlaps an existing block")
		}

		if err := tx.QueryRow(ctx, `INSERT INTO calendar_blocks (professional_id, starts_at, ends_at, note)
			VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
			block.ProfessionalID, start, end, block.Note).Scan(&block.ID, &block.CreatedAt); err != nil {
			return err
		}
		block.StartsAt, block.EndsAt, block.CreatedAt = start, end, utc(block.CreatedAt)
		return writeOutbox(ctx, tx, outbox)
	})
}

func (s *Store) DeleteBlock(ctx context.Context, blockID, professionalID int64, outbox domain.OutboxFunc) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, "delete block", func(ctx context.Context, tx pgx.Tx) error {
		deleted = false
		var owner int64
		err := tx.QueryRow(ctx, `SELECT professional_id FROM calendar_blocks WHERE id = $1 FOR UPDATE`, blockID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if owner != professionalID {
			return apperr.New(apperr.KindForbidden, "only the owning professional can delete this block")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_blocks WHERE id = $1`, blockID); err != nil {
			return err
		}
		deleted = true
		return writeOutbox(ctx, tx, outbox)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Store) ListBlocksInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.CalendarBlock, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, professional_id, starts_at, ends_at, note, created_at
		FROM calendar_blocks
		WHERE professional_id = $1 AND starts_at < $2 AND ends_at > $3
		ORDER BY starts_at ASC`, professionalID, to, from)
	if err != nil {
		return nil, classify(ctx, "list blocks", err)
	}
	defer rows.Close()

	blocks := make([]*models.CalendarBlock, 0)
	for rows.Next() {
		var b models.CalendarBlock
		if err := rows.Scan(&b.ID, &b.ProfessionalID, &b.StartsAt, &b.EndsAt, &b.Note, &b.CreatedAt); err != nil {
			return nil, classify(ctx, "scan block", err)
		}
		b.StartsAt, b.EndsAt, b.CreatedAt = utc(b.StartsAt), utc(b.EndsAt), utc(b.CreatedAt)
		blocks = append(blocks, &b)
	}
	return blocks, classify(ctx, "list blocks", rows.Err())
}
