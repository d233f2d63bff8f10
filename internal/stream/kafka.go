// Package stream publishes outbox events to a Kafka topic.
package stream

import (
	"context"
	"fmt"
	"strconv"

	"tovis/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const SinkName = "kafka"

const DefaultTopic = "tovis.booking-events"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes every outbox event as one message keyed by professional,
// so events of one calendar stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
	logger *zerolog.Logger
}

func NewKafkaSink(writer MessageWriter, topic string, logger *zerolog.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{writer: writer, topic: topic, logger: logger}
}

// NewWriter builds a hash-balanced writer for the given brokers.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (s *KafkaSink) Name() string { return SinkName }

func (s *KafkaSink) Deliver(ctx context.Context, event *models.OutboxEvent) error {
	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(strconv.FormatInt(event.ProfessionalID, 10)),
		Value: []byte(event.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(strconv.FormatInt(event.ID, 10))},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "booking_id", Value: []byte(strconv.FormatInt(event.BookingID, 10))},
		},
		Time: event.CreatedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", event.EventType, err)
	}
	s.logger.Debug().Int64("event_id", event.ID).Str("topic", s.topic).Msg("event published")
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// HeaderValue returns the first header with the given key.
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
