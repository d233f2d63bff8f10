package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tovis/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetWorkingHours(ctx context.Context, professionalID int64) (*models.WorkingHours, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	wh := &models.WorkingHours{ProfessionalID: professionalID, Timezone: "UTC", Days: models.WeeklySchedule{}}
	err := s.pool.QueryRow(ctx, `SELECT timezone FROM schedules WHERE professional_id = $1`, professionalID).Scan(&wh.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return wh, nil
	}
	if err != nil {
		return nil, classify(ctx, "get schedule", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT weekday, start_minute, end_minute FROM working_hours
		WHERE professional_id = $1 ORDER BY weekday, start_minute`, professionalID)
	if err != nil {
		return nil, classify(ctx, "get working hours", err)
	}
	defer rows.Close()

	for rows.Next() {
		var weekday int16
		var start, end int32
		if err := rows.Scan(&weekday, &start, &end); err != nil {
			return nil, classify(ctx, "scan working hours", err)
		}
		d := time.Weekday(weekday)
		wh.Days[d] = append(wh.Days[d], models.DayInterval{Start: models.ClockTime(start), End: models.ClockTime(end)})
	}
	return wh, classify(ctx, "get working hours", rows.Err())
}

// SetWorkingHours replaces the weekly schedule, inserting the intervals in
// one batch.
func (s *Store) SetWorkingHours(ctx context.Context, wh *models.WorkingHours) error {
	if err := wh.Validate(); err != nil {
		return err
	}
	tz := wh.Timezone
	if tz == "" {
		tz = "UTC"
	}

	return s.withTx(ctx, "set working hours", func(ctx context.Context, tx pgx.Tx) error {
		if err := lockProfessional(ctx, tx, wh.ProfessionalID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schedules (professional_id, timezone, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (professional_id) DO UPDATE SET timezone = EXCLUDED.timezone, updated_at = now()`,
			wh.ProfessionalID, tz); err != nil {
			return fmt.Errorf("upsert schedule: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM working_hours WHERE professional_id = $1`, wh.ProfessionalID); err != nil {
			return fmt.Errorf("clear working hours: %w", err)
		}

		batch := &pgx.Batch{}
		for d, intervals := range wh.Days {
			for _, iv := range intervals {
				batch.Queue(`INSERT INTO working_hours (professional_id, weekday, start_minute, end_minute)
					VALUES ($1, $2, $3, $4)`, wh.ProfessionalID, int16(d), int32(iv.Start), int32(iv.End))
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
