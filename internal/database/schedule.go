package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tovis/internal/models"
)

// GetWorkingHours returns the weekly schedule. A professional without a
// configured schedule gets an empty one in UTC.
func (db *DB) GetWorkingHours(ctx context.Context, professionalID int64) (*models.WorkingHours, error) {
	ctx, cancel := db.opCtx(ctx)
	defer cancel()

	wh := &models.WorkingHours{ProfessionalID: professionalID, Timezone: "UTC", Days: models.WeeklySchedule{}}
	err := db.QueryRowContext(ctx, `SELECT timezone FROM schedules WHERE professional_id = ?`, professionalID).Scan(&wh.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return wh, nil
	}
	if err != nil {
		return nil, classify(ctx, "get schedule", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT weekday, start_minute, end_minute FROM working_hours
		WHERE professional_id = ? ORDER BY weekday, start_minute`, professionalID)
	if err != nil {
		return nil, classify(ctx, "get working hours", err)
	}
	defer rows.Close()

	for rows.Next() {
		var weekday, start, end int
		if err := rows.Scan(&weekday, &start, &end); err != nil {
			return nil, classify(ctx, "scan working hours", err)
		}
		d := time.Weekday(weekday)
		wh.Days[d] = append(wh.Days[d], models.DayInterval{Start: models.ClockTime(start), End: models.ClockTime(end)})
	}
	return wh, classify(ctx, "get working hours", rows.Err())
}

// SetWorkingHours replaces the whole weekly schedule.
func (db *DB) SetWorkingHours(ctx context.Context, wh *models.WorkingHours) error {
	if err := wh.Validate(); err != nil {
		return err
	}
	tz := wh.Timezone
	if tz == "" {
		tz = "UTC"
	}

	return db.withTx(ctx, "set working hours", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schedules (professional_id, timezone, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(professional_id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`,
			wh.ProfessionalID, tz, unix(time.Now())); err != nil {
			return fmt.Errorf("failed to upsert schedule: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM working_hours WHERE professional_id = ?`, wh.ProfessionalID); err != nil {
			return fmt.Errorf("failed to clear working hours: %w", err)
		}
		for d, intervals := range wh.Days {
			for _, iv := range intervals {
				if _, err := tx.ExecContext(ctx, `INSERT INTO working_hours (professional_id, weekday, start_minute, end_minute)
					VALUES (?, ?, ?, ?)`, wh.ProfessionalID, int(d), int(iv.Start), int(iv.End)); err != nil {
					return fmt.Errorf("failed to insert working hours: %w", err)
				}
			}
		}
		return nil
	})
}
