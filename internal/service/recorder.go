package service

import (
	"context"
	"encoding/json"
	"fmt"

	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/rs/zerolog"
)

// OutboxEntry describes one lifecycle event of a write.
type OutboxEntry struct {
	EventType      string
	BookingID      int64
	ProfessionalID int64
	Payload        interface{}
}

// EventRecorder renders lifecycle events into outbox rows, which the store
// persists in the write transaction, and fans committed rows out to the
// in-process bus and the delivery queue.
type EventRecorder struct {
	bus    domain.EventPublisher
	queue  domain.OutboxEnqueuer
	logger *zerolog.Logger
}

func NewEventRecorder(bus domain.EventPublisher, queue domain.OutboxEnqueuer, logger *zerolog.Logger) *EventRecorder {
	return &EventRecorder{
		bus:    bus,
		queue:  queue,
		logger: logger,
	}
}

// Stage returns the store callback rendering entries and a dispatch func to
// run once the write has committed. The callback may run again when the
// transaction retries; dispatch sees the rows of the committed attempt.
// A nil recorder stages nothing.
func (r *EventRecorder) Stage(entries func() []OutboxEntry) (domain.OutboxFunc, func(ctx context.Context)) {
	if r == nil {
		return nil, func(context.Context) {}
	}
	var staged []*models.OutboxEvent
	render := func() ([]*models.OutboxEvent, error) {
		staged = nil
		for _, e := range entries() {
			raw, err := json.Marshal(e.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal %s payload: %w", e.EventType, err)
			}
			staged = append(staged, &models.OutboxEvent{
				EventType:      e.EventType,
				BookingID:      e.BookingID,
				ProfessionalID: e.ProfessionalID,
				Payload:        string(raw),
				Status:         models.OutboxStatusPending,
			})
		}
		return staged, nil
	}
	dispatch := func(ctx context.Context) { r.Dispatch(ctx, staged) }
	return render, dispatch
}

// Dispatch publishes persisted events on the bus and pushes them to the
// queue. Failures are logged; the poller still finds the rows.
func (r *EventRecorder) Dispatch(ctx context.Context, events []*models.OutboxEvent) {
	if r == nil {
		return
	}
	for _, event := range events {
		if r.bus != nil {
			if err := r.bus.PublishJSON(event.EventType, json.RawMessage(event.Payload)); err != nil {
				r.logger.Error().Err(err).Str("event_type", event.EventType).Int64("event_id", event.ID).Msg("publish event error")
			}
		}
		if r.queue == nil || event.ID == 0 {
			continue
		}
		if err := r.queue.Enqueue(ctx, event); err != nil {
			r.logger.Warn().Err(err).Int64("event_id", event.ID).Msg("outbox enqueue error")
		}
	}
}
