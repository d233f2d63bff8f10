package models

import (
	"time"

	"tovis/internal/timerange"
)

type Booking struct {
	ID                      int64         `json:"id"`
	ProfessionalID          int64         `json:"professional_id"`
	ClientID                int64         `json:"client_id"`
	ServiceID               int64         `json:"service_id"`
	ScheduledFor            time.Time     `json:"scheduled_for"`
	DurationMinutesSnapshot int           `json:"duration_minutes"`
	Status                  BookingStatus `json:"status"`
	StartedAt               *time.Time    `json:"started_at,omitempty"`
	FinishedAt              *time.Time    `json:"finished_at,omitempty"`
	Note                    string        `json:"note,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
	Version                 int64         `json:"version"`
}

func (b *Booking) Duration() time.Duration {
	return time.Duration(b.DurationMinutesSnapshot) * time.Minute
}

func (b *Booking) EndsAt() time.Time {
	return b.ScheduledFor.Add(b.Duration())
}

// Range returns [ScheduledFor, ScheduledFor+duration).
func (b *Booking) Range() (timerange.Range, error) {
	return timerange.FromDuration(b.ScheduledFor, b.Duration())
}

// IsActive reports whether the booking is a running session.
func (b *Booking) IsActive() bool {
	return b.StartedAt != nil && b.FinishedAt == nil
}

// OccupiesTime reports whether the booking blocks its time range for others.
func (b *Booking) OccupiesTime() bool {
	return b.Status != StatusCancelled
}
