package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/models"
)

// SaveService inserts a new service or, when ID is set, upserts it. The
// upsert path is used when seeding the catalog from a file.
func (db *DB) SaveService(ctx context.Context, s *models.Service) error {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	if s.ID == 0 {
		result, err := db.ExecContext(ctx, `INSERT INTO services (professional_id, name, duration_minutes, is_active, created_at)
			VALUES (?, ?, ?, ?, ?)`, s.ProfessionalID, s.Name, s.DurationMinutes, s.IsActive, unix(now))
		if err != nil {
			return classify(ctx, "create service", err)
		}
		if s.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		s.CreatedAt = now
		return nil
	}

	_, err := db.ExecContext(ctx, `INSERT INTO services (id, professional_id, name, duration_minutes, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			professional_id = excluded.professional_id,
			name = excluded.name,
			duration_minutes = excluded.duration_minutes,
			is_active = excluded.is_active`,
		s.ID, s.ProfessionalID, s.Name, s.DurationMinutes, s.IsActive, unix(now))
	if err != nil {
		return classify(ctx, "save service", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return nil
}

const serviceColumns = `id, professional_id, name, duration_minutes, is_active, created_at`

func scanService(row scanner) (*models.Service, error) {
	var (
		s       models.Service
		created int64
	)
	if err := row.Scan(&s.ID, &s.ProfessionalID, &s.Name, &s.DurationMinutes, &s.IsActive, &created); err != nil {
		return nil, err
	}
	s.CreatedAt = fromUnix(created)
	return &s, nil
}

func (db *DB) GetService(ctx context.Context, id int64) (*models.Service, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	s, err := scanService(db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "service %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get service", err)
	}
	return s, nil
}

func (db *DB) ListServices(ctx context.Context, professionalID int64) ([]*models.Service, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services
		WHERE professional_id = ? ORDER BY name ASC, id ASC`, professionalID)
	if err != nil {
		return nil, classify(ctx, "list services", err)
	}
	defer rows.Close()

	services := make([]*models.Service, 0)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, classify(ctx, "scan service", err)
		}
		services = append(services, s)
	}
	return services, classify(ctx, "list services", rows.Err())
}
