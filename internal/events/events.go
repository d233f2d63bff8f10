package events

import (
	"encoding/json"
	"sync"
	"time"

	"tovis/internal/models"
)

const (
	EventBookingRequested = "booking_requested"
	EventBookingAccepted  = "booking_accepted"
	EventBookingStarted   = "booking_started"
	EventBookingCompleted = "booking_completed"
	EventBookingCancelled = "booking_cancelled"
	EventBlockCreated     = "block_created"
	EventBlockDeleted     = "block_deleted"
)

// BookingEvents lists the lifecycle events delivered through the outbox.
var BookingEvents = []string{
	EventBookingRequested,
	EventBookingAccepted,
	EventBookingStarted,
	EventBookingCompleted,
	EventBookingCancelled,
}

// EventForStatus maps a target booking status to its lifecycle event.
func EventForStatus(status models.BookingStatus) string {
	switch status {
	case models.StatusAccepted:
		return EventBookingAccepted
	case models.StatusCompleted:
		return EventBookingCompleted
	case models.StatusCancelled:
		return EventBookingCancelled
	default:
		return EventBookingRequested
	}
}

// BookingEventPayload is the booking snapshot handed to event consumers.
type BookingEventPayload struct {
	BookingID       int64                `json:"booking_id"`
	ProfessionalID  int64                `json:"professional_id"`
	ClientID        int64                `json:"client_id"`
	ServiceID       int64                `json:"service_id"`
	ServiceName     string               `json:"service_name,omitempty"`
	Status          models.BookingStatus `json:"status"`
	ScheduledFor    time.Time            `json:"scheduled_for"`
	DurationMinutes int                  `json:"duration_minutes"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	ChangedByID     int64                `json:"changed_by_id,omitempty"`
	ChangedByRole   models.Role          `json:"changed_by_role,omitempty"`
}

func NewBookingPayload(b *models.Booking, actor models.Actor) BookingEventPayload {
	return BookingEventPayload{
		BookingID:       b.ID,
		ProfessionalID:  b.ProfessionalID,
		ClientID:        b.ClientID,
		ServiceID:       b.ServiceID,
		Status:          b.Status,
		ScheduledFor:    b.ScheduledFor,
		DurationMinutes: b.DurationMinutesSnapshot,
		StartedAt:       b.StartedAt,
		FinishedAt:      b.FinishedAt,
		ChangedByID:     actor.UserID,
		ChangedByRole:   actor.Role,
	}
}

// BlockEventPayload describes a calendar block change.
type BlockEventPayload struct {
	BlockID        int64     `json:"block_id"`
	ProfessionalID int64     `json:"professional_id"`
	StartsAt       time.Time `json:"starts_at,omitempty"`
	EndsAt         time.Time `json:"ends_at,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every listed event type.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish runs handlers synchronously and returns the first handler error.
// Every handler runs even if an earlier one fails.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var first error
	for _, handler := range handlers {
		if err := handler(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
