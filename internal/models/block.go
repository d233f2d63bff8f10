package models

import (
	"time"

	"tovis/internal/timerange"
)

// CalendarBlock is a professional-owned exclusion interval (vacation, break).
// Blocks are never edited in place.
type CalendarBlock struct {
	ID             int64     `json:"id"`
	ProfessionalID int64     `json:"professional_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (b *CalendarBlock) Range() (timerange.Range, error) {
	return timerange.New(b.StartsAt, b.EndsAt)
}
