// Package worker delivers outbox events to external sinks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tovis/internal/config"
	"tovis/internal/domain"
	"tovis/internal/metrics"
	"tovis/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey = "tovis:outbox:queue"
	deadLetterKey = "tovis:outbox:deadletter"
)

// OutboxWorker consumes outbox events and hands them to every sink.
// Event ids travel through Redis (or an in-memory channel without Redis);
// the outbox table is polled as well, so a lost queue entry only delays
// delivery. Each sink is recorded once it accepts an event, so a retry only
// goes to the sinks that failed. Delivery is still at least once per sink.
type OutboxWorker struct {
	store        domain.OutboxStore
	sinks        []domain.EventSink
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan int64
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewOutboxWorker(store domain.OutboxStore, sinks []domain.EventSink, redisClient *redis.Client, cfg config.WorkerConfig, logger *zerolog.Logger) *OutboxWorker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = models.DefaultOutboxBatchSize
	}

	return &OutboxWorker{
		store:        store,
		sinks:        sinks,
		redis:        redisClient,
		retryPolicy:  PolicyFromConfig(cfg).withDefaults(),
		queue:        make(chan int64, models.DefaultOutboxQueueBuffer),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
		logger:       logger,
	}
}

// Enqueue schedules an already persisted event for prompt delivery.
func (w *OutboxWorker) Enqueue(ctx context.Context, event *models.OutboxEvent) error {
	if event == nil || event.ID == 0 {
		return errors.New("outbox event must be persisted before enqueueing")
	}

	if w.redis != nil {
		err := w.redis.LPush(ctx, redisQueueKey, event.ID).Err()
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("event_id", event.ID).Msg("redis push failed, using memory queue")
	}

	select {
	case w.queue <- event.ID:
	default:
		w.logger.Warn().Int64("event_id", event.ID).Msg("memory queue full, event left to polling")
	}
	return nil
}

func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Int("sinks", len(w.sinks)).Dur("poll_interval", w.pollInterval).Msg("Outbox worker started")
	defer w.logger.Info().Msg("Outbox worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if id, ok := w.tryLocalQueue(); ok {
			w.processID(ctx, id)
			continue
		}
		if id, ok := w.tryRedis(ctx); ok {
			w.processID(ctx, id)
			continue
		}

		if n := w.poll(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// poll processes one batch of due events from the table.
func (w *OutboxWorker) poll(ctx context.Context) int {
	pending, err := w.store.GetPendingOutboxEvents(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending outbox events")
		return 0
	}
	metrics.SetBacklog(len(pending))
	for _, event := range pending {
		w.processEvent(ctx, event)
	}
	return len(pending)
}

func (w *OutboxWorker) tryLocalQueue() (int64, bool) {
	select {
	case id := <-w.queue:
		return id, true
	default:
		return 0, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (int64, bool) {
	if w.redis == nil {
		return 0, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("redis BRPOP error")
		}
		return 0, false
	}
	if len(res) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		w.logger.Error().Err(err).Str("value", res[1]).Msg("malformed outbox queue entry")
		return 0, false
	}
	return id, true
}

// processID reloads the event so entries already handled by polling are
// skipped.
func (w *OutboxWorker) processID(ctx context.Context, id int64) {
	event, err := w.store.GetOutboxEvent(ctx, id)
	if err != nil {
		w.logger.Error().Err(err).Int64("event_id", id).Msg("load outbox event")
		return
	}
	w.processEvent(ctx, event)
}

func (w *OutboxWorker) processEvent(ctx context.Context, event *models.OutboxEvent) {
	switch event.Status {
	case models.OutboxStatusCompleted, models.OutboxStatusFailed:
		return
	}
	if event.NextRetryAt != nil && event.NextRetryAt.After(w.now()) {
		return
	}

	// Sinks that already took the event are skipped on retries.
	var failures []string
	for _, sink := range w.sinks {
		name := sink.Name()
		if event.DeliveredTo(name) {
			continue
		}
		if err := sink.Deliver(ctx, event); err != nil {
			metrics.IncDelivery(name, "error")
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		metrics.IncDelivery(name, "ok")
		if err := w.store.MarkOutboxSinkDelivered(ctx, event.ID, name); err != nil {
			w.logger.Error().Err(err).Int64("event_id", event.ID).Str("sink", name).Msg("mark outbox sink delivered")
		}
		event.DeliveredSinks = append(event.DeliveredSinks, name)
	}

	if len(failures) == 0 {
		if err := w.store.UpdateOutboxEventStatus(ctx, event.ID, models.OutboxStatusCompleted, "", nil); err != nil {
			w.logger.Error().Err(err).Int64("event_id", event.ID).Msg("mark outbox event completed")
		}
		return
	}
	w.retryOrFail(ctx, event, errors.New(strings.Join(failures, "; ")))
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, event *models.OutboxEvent, cause error) {
	attempt := event.RetryCount + 1
	logger := w.logger.With().Int64("event_id", event.ID).Str("event_type", event.EventType).Int("attempt", attempt).Logger()

	if w.retryPolicy.Exhausted(attempt) {
		logger.Error().Err(cause).Msg("outbox delivery failed permanently")
		if err := w.store.UpdateOutboxEventStatus(ctx, event.ID, models.OutboxStatusFailed, cause.Error(), nil); err != nil {
			logger.Error().Err(err).Msg("mark outbox event failed")
		}
		w.pushDeadLetter(ctx, event, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	logger.Warn().Err(cause).Time("next_retry_at", next).Msg("outbox delivery failed, will retry")
	if err := w.store.UpdateOutboxEventStatus(ctx, event.ID, models.OutboxStatusRetry, cause.Error(), &next); err != nil {
		logger.Error().Err(err).Msg("mark outbox event for retry")
	}
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, event *models.OutboxEvent, cause error) {
	if w.redis == nil {
		return
	}
	dead := *event
	msg := cause.Error()
	dead.LastError = &msg
	dead.Status = models.OutboxStatusFailed

	data, err := json.Marshal(dead)
	if err != nil {
		w.logger.Error().Err(err).Int64("event_id", event.ID).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("event_id", event.ID).Msg("dead letter push")
	}
}

// DeadLetters returns the most recent permanently failed events. Without
// Redis the outbox table is the only record.
func (w *OutboxWorker) DeadLetters(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	if w.redis == nil {
		return w.store.GetFailedOutboxEvents(ctx, limit)
	}
	raw, err := w.redis.LRange(ctx, deadLetterKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]*models.OutboxEvent, 0, len(raw))
	for _, item := range raw {
		var e models.OutboxEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			w.logger.Warn().Err(err).Msg("skip malformed dead letter")
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}
