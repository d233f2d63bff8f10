package models

import (
	"slices"
	"time"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusRetry      = "retry"
	OutboxStatusCompleted  = "completed"
	OutboxStatusFailed     = "failed"
)

// OutboxEvent is a lifecycle event awaiting delivery to external sinks.
type OutboxEvent struct {
	ID             int64      `json:"id"`
	EventType      string     `json:"event_type"`
	BookingID      int64      `json:"booking_id,omitempty"`
	ProfessionalID int64      `json:"professional_id"`
	Payload        string     `json:"payload"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	DeliveredSinks []string   `json:"delivered_sinks,omitempty"`
}

// DeliveredTo reports whether sink already accepted the event.
func (e *OutboxEvent) DeliveredTo(sink string) bool {
	return slices.Contains(e.DeliveredSinks, sink)
}
