package postgres

import (
	"context"
	"errors"

	"tovis/internal/apperr"
	"tovis/internal/models"

	"github.com/jackc/pgx/v5"
)

const serviceColumns = `id, professional_id, name, duration_minutes, is_active, created_at`

func scanService(row pgx.Row) (*models.Service, error) {
	var svc models.Service
	if err := row.Scan(&svc.ID, &svc.ProfessionalID, &svc.Name, &svc.DurationMinutes, &svc.IsActive, &svc.CreatedAt); err != nil {
		return nil, err
	}
	svc.CreatedAt = utc(svc.CreatedAt)
	return &svc, nil
}

func (s *Store) SaveService(ctx context.Context, svc *models.Service) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if svc.ID == 0 {
		err := s.pool.QueryRow(ctx, `INSERT INTO services (professional_id, name, duration_minutes, is_active)
			VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
			svc.ProfessionalID, svc.Name, svc.DurationMinutes, svc.IsActive).Scan(&svc.ID, &svc.CreatedAt)
		return classify(ctx, "create service", err)
	}

	err := s.pool.QueryRow(ctx, `INSERT INTO services (id, professional_id, name, duration_minutes, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			professional_id = EXCLUDED.professional_id,
			name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			is_active = EXCLUDED.is_active
		RETURNING created_at`,
		svc.ID, svc.ProfessionalID, svc.Name, svc.DurationMinutes, svc.IsActive).Scan(&svc.CreatedAt)
	if err != nil {
		return classify(ctx, "save service", err)
	}
	// keep the sequence ahead of explicitly seeded ids
	_, err = s.pool.Exec(ctx, `SELECT setval(pg_get_serial_sequence('services', 'id'), GREATEST((SELECT MAX(id) FROM services), 1))`)
	return classify(ctx, "save service", err)
}

func (s *Store) GetService(ctx context.Context, id int64) (*models.Service, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	svc, err := scanService(s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "service %d not found", id)
	}
	if err != nil {
		return nil, classify(ctx, "get service", err)
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context, professionalID int64) ([]*models.Service, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services
		WHERE professional_id = $1 ORDER BY name ASC, id ASC`, professionalID)
	if err != nil {
		return nil, classify(ctx, "list services", err)
	}
	defer rows.Close()

	services := make([]*models.Service, 0)
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, classify(ctx, "scan service", err)
		}
		services = append(services, svc)
	}
	return services, classify(ctx, "list services", rows.Err())
}
