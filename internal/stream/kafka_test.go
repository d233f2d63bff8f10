package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tovis/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_Deliver(t *testing.T) {
	logger := zerolog.New(io.Discard)
	w := &recordingWriter{}
	sink := NewKafkaSink(w, "", &logger)
	assert.Equal(t, "kafka", sink.Name())

	created := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	event := &models.OutboxEvent{
		ID:             9,
		EventType:      "booking_accepted",
		BookingID:      42,
		ProfessionalID: 5,
		Payload:        `{"booking_id":42}`,
		CreatedAt:      created,
	}
	require.NoError(t, sink.Deliver(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, "5", string(msg.Key))
	assert.JSONEq(t, `{"booking_id":42}`, string(msg.Value))
	assert.Equal(t, "9", HeaderValue(msg.Headers, "event_id"))
	assert.Equal(t, "booking_accepted", HeaderValue(msg.Headers, "event_type"))
	assert.Equal(t, "42", HeaderValue(msg.Headers, "booking_id"))
	assert.Equal(t, "", HeaderValue(msg.Headers, "missing"))
	assert.Equal(t, created, msg.Time)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sink := NewKafkaSink(&recordingWriter{err: errors.New("leader not available")}, "custom", &logger)

	err := sink.Deliver(context.Background(), &models.OutboxEvent{ID: 1, EventType: "block_created"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_created")
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"localhost:9092", "localhost:9093"})
	assert.Equal(t, "tcp", w.Addr.Network())
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
