package models

import (
	"strings"
	"time"

	"tovis/internal/apperr"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusAccepted  BookingStatus = "ACCEPTED"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsOpen reports whether the booking can still change state.
func (s BookingStatus) IsOpen() bool {
	return s == StatusPending || s == StatusAccepted
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ParseBookingStatus(raw string) (BookingStatus, error) {
	s := BookingStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", apperr.Newf(apperr.KindInvalidInput, "unknown booking status %q", raw)
	}
	return s, nil
}

const (
	// MinBlockDuration and MaxBlockDuration bound a single calendar block.
	MinBlockDuration = 15 * time.Minute
	MaxBlockDuration = 24 * time.Hour

	DefaultSlotStep          = 15 * time.Minute
	DefaultUpcomingLookback  = 30 * time.Minute
	DefaultUpcomingHorizon   = 3 * time.Hour
	DefaultMaxWindowDays     = 31
	DefaultMaxAdvanceDays    = 180
	DefaultStoreTimeout      = 3 * time.Second
	DefaultSlotCacheTTL      = 5 * time.Minute
	DefaultCreateRateLimit   = 10
	DefaultCreateRateWindow  = time.Minute
	DefaultOutboxBatchSize   = 50
	DefaultOutboxMaxRetries  = 5
	DefaultOutboxQueueBuffer = 1000
)
