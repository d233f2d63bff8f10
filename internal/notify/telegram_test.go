package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/events"
	"tovis/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) GetProfessional(ctx context.Context, id int64) (*models.Professional, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Professional), args.Error(1)
}

func bookingEvent(t *testing.T, eventType string, professionalID int64) *models.OutboxEvent {
	t.Helper()
	payload := events.BookingEventPayload{
		BookingID:       42,
		ProfessionalID:  professionalID,
		ClientID:        7,
		ServiceID:       3,
		ServiceName:     "Haircut",
		Status:          models.StatusPending,
		ScheduledFor:    time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.OutboxEvent{ID: 1, EventType: eventType, ProfessionalID: professionalID, Payload: string(raw)}
}

func TestTelegramSink_Deliver(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sender := &mockSender{}
	users := &mockUsers{}
	users.On("GetProfessional", mock.Anything, int64(5)).Return(&models.Professional{ID: 5, Timezone: "Europe/Berlin", TelegramChatID: 1001}, nil)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 1001 && msg.ParseMode == tgbotapi.ModeMarkdown
	})).Return(tgbotapi.Message{}, nil).Once()

	sink := NewTelegramSink(sender, users, &logger)
	assert.Equal(t, "telegram", sink.Name())
	require.NoError(t, sink.Deliver(context.Background(), bookingEvent(t, events.EventBookingRequested, 5)))
	sender.AssertExpectations(t)
}

func TestTelegramSink_Skips(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sender := &mockSender{}
	users := &mockUsers{}
	users.On("GetProfessional", mock.Anything, int64(5)).Return(&models.Professional{ID: 5}, nil)
	users.On("GetProfessional", mock.Anything, int64(6)).Return(nil, apperr.ErrNotFound)
	sink := NewTelegramSink(sender, users, &logger)
	ctx := context.Background()

	assert.NoError(t, sink.Deliver(ctx, &models.OutboxEvent{EventType: events.EventBlockCreated, Payload: "{}"}))
	assert.NoError(t, sink.Deliver(ctx, &models.OutboxEvent{EventType: events.EventBookingAccepted, Payload: "not json"}))
	assert.NoError(t, sink.Deliver(ctx, bookingEvent(t, events.EventBookingAccepted, 5)), "no linked chat")
	assert.NoError(t, sink.Deliver(ctx, bookingEvent(t, events.EventBookingAccepted, 6)), "unknown professional")
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestTelegramSink_Errors(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sender := &mockSender{}
	users := &mockUsers{}
	users.On("GetProfessional", mock.Anything, int64(5)).Return(&models.Professional{ID: 5, TelegramChatID: 1001}, nil)
	users.On("GetProfessional", mock.Anything, int64(6)).Return(nil, apperr.ErrStorageTimeout)
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("429 too many requests"))
	sink := NewTelegramSink(sender, users, &logger)
	ctx := context.Background()

	assert.Error(t, sink.Deliver(ctx, bookingEvent(t, events.EventBookingCompleted, 5)))
	assert.Error(t, sink.Deliver(ctx, bookingEvent(t, events.EventBookingCompleted, 6)))
}

func TestFormatMessage(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	p := events.BookingEventPayload{
		BookingID:       42,
		ClientID:        7,
		ServiceID:       3,
		ScheduledFor:    time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		ChangedByRole:   models.RoleClient,
	}
	text := FormatMessage(events.EventBookingCancelled, p, loc)

	assert.Contains(t, text, "Booking cancelled")
	assert.Contains(t, text, "service #3 (30 min)")
	assert.Contains(t, text, "Mon 03.03.2025 10:00")
	assert.Contains(t, text, "Cancelled by the client")
}
