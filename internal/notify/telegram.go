// Package notify sends booking lifecycle notifications to professionals
// over Telegram.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/events"
	"tovis/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const SinkName = "telegram"

// ProfessionalLookup is the part of the user store the sink needs.
type ProfessionalLookup interface {
	GetProfessional(ctx context.Context, id int64) (*models.Professional, error)
}

type TelegramSink struct {
	sender domain.TelegramSender
	users  ProfessionalLookup
	logger *zerolog.Logger
}

func NewTelegramSink(sender domain.TelegramSender, users ProfessionalLookup, logger *zerolog.Logger) *TelegramSink {
	return &TelegramSink{sender: sender, users: users, logger: logger}
}

// NewBotSender connects to the Bot API.
func NewBotSender(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

func (s *TelegramSink) Name() string { return SinkName }

// Deliver notifies the professional about booking events. Other events and
// professionals without a linked chat are skipped.
func (s *TelegramSink) Deliver(ctx context.Context, event *models.OutboxEvent) error {
	if !isBookingEvent(event.EventType) {
		return nil
	}

	var payload events.BookingEventPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		s.logger.Error().Err(err).Int64("event_id", event.ID).Msg("telegram: malformed payload dropped")
		return nil
	}

	pro, err := s.users.GetProfessional(ctx, payload.ProfessionalID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load professional: %w", err)
	}
	if pro.TelegramChatID == 0 {
		return nil
	}

	loc, err := time.LoadLocation(pro.Timezone)
	if err != nil {
		loc = time.UTC
	}

	msg := tgbotapi.NewMessage(pro.TelegramChatID, FormatMessage(event.EventType, payload, loc))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	s.logger.Debug().Int64("chat_id", pro.TelegramChatID).Int64("booking_id", payload.BookingID).Msg("telegram notification sent")
	return nil
}

func isBookingEvent(eventType string) bool {
	for _, t := range events.BookingEvents {
		if t == eventType {
			return true
		}
	}
	return false
}

var headlines = map[string]string{
	events.EventBookingRequested: "🆕 *New booking request*",
	events.EventBookingAccepted:  "✅ *Booking accepted*",
	events.EventBookingStarted:   "▶️ *Session started*",
	events.EventBookingCompleted: "🏁 *Session completed*",
	events.EventBookingCancelled: "❌ *Booking cancelled*",
}

// FormatMessage renders the notification text in the professional's zone.
func FormatMessage(eventType string, p events.BookingEventPayload, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(headlines[eventType])
	sb.WriteString("\n\n")

	service := p.ServiceName
	if service == "" {
		service = fmt.Sprintf("service #%d", p.ServiceID)
	}
	fmt.Fprintf(&sb, "📋 %s (%d min)\n", service, p.DurationMinutes)
	fmt.Fprintf(&sb, "📅 %s\n", p.ScheduledFor.In(loc).Format("Mon 02.01.2006 15:04"))
	fmt.Fprintf(&sb, "🔖 Booking #%d, client #%d\n", p.BookingID, p.ClientID)
	if eventType == events.EventBookingCancelled && p.ChangedByRole == models.RoleClient {
		sb.WriteString("Cancelled by the client")
	}
	return strings.TrimRight(sb.String(), "\n")
}
