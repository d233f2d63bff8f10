package domain

import (
	"context"
	"fmt"
	"time"

	"tovis/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// BookingMutation computes the next state of a booking inside the store
// transaction. active is the professional's other running session, if any.
type BookingMutation func(current models.Booking, active *models.Booking) (models.Booking, error)

// OutboxFunc renders the outbox events of a write. Stores call it inside the
// write transaction, after the row is persisted, and insert the events in
// that transaction. It may run more than once when the transaction retries.
type OutboxFunc func() ([]*models.OutboxEvent, error)

type BookingStore interface {
	// CreateBooking inserts a PENDING booking after checking, in the same
	// transaction, that the range overlaps no other non-cancelled booking
	// and no calendar block of the professional.
	CreateBooking(ctx context.Context, booking *models.Booking, outbox OutboxFunc) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	MutateBooking(ctx context.Context, id int64, mutate BookingMutation, outbox OutboxFunc) (*models.Booking, error)
	ListBookingsInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error)
	ListSessionCandidates(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error)
	ListBookingsForExport(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error)
}

type BlockStore interface {
	CreateBlock(ctx context.Context, block *models.CalendarBlock, outbox OutboxFunc) error
	// DeleteBlock reports whether a block was removed. outbox only runs when
	// one was.
	DeleteBlock(ctx context.Context, blockID, professionalID int64, outbox OutboxFunc) (bool, error)
	ListBlocksInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.CalendarBlock, error)
}

type ScheduleStore interface {
	GetWorkingHours(ctx context.Context, professionalID int64) (*models.WorkingHours, error)
	SetWorkingHours(ctx context.Context, wh *models.WorkingHours) error
}

type CatalogStore interface {
	SaveService(ctx context.Context, service *models.Service) error
	GetService(ctx context.Context, id int64) (*models.Service, error)
	ListServices(ctx context.Context, professionalID int64) ([]*models.Service, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateProfessional(ctx context.Context, p *models.Professional) error
	GetProfessional(ctx context.Context, id int64) (*models.Professional, error)
	GetProfessionalByUserID(ctx context.Context, userID int64) (*models.Professional, error)
}

type OutboxStore interface {
	CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	GetOutboxEvent(ctx context.Context, id int64) (*models.OutboxEvent, error)
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
	UpdateOutboxEventStatus(ctx context.Context, id int64, status string, lastErr string, nextRetryAt *time.Time) error
	MarkOutboxSinkDelivered(ctx context.Context, id int64, sink string) error
	GetFailedOutboxEvents(ctx context.Context, limit int) ([]*models.OutboxEvent, error)
}

// Store is the full persistence contract. Both the SQLite and the
// PostgreSQL backends implement it.
type Store interface {
	BookingStore
	BlockStore
	ScheduleStore
	CatalogStore
	UserStore
	OutboxStore
	Ping(ctx context.Context) error
	Close() error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SlotKey identifies one cached availability computation.
type SlotKey struct {
	ProfessionalID int64
	ServiceID      int64
	From           time.Time
	To             time.Time
	Step           time.Duration
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d:%d", k.ProfessionalID, k.ServiceID, k.From.Unix(), k.To.Unix(), int64(k.Step/time.Second))
}

// CacheVersion is the professional's cache generation as seen by one
// backend.
type CacheVersion struct {
	Backend    string
	Generation int64
}

// CachedSlots is a cache lookup. On a miss, Version is handed back to
// SetSlots so a result computed against an older generation is dropped.
type CachedSlots struct {
	Slots   []time.Time
	Hit     bool
	Version CacheVersion
}

type CacheRepository interface {
	GetSlots(ctx context.Context, key SlotKey) (CachedSlots, error)
	// SetSlots stores slots only while the generation still equals version.
	SetSlots(ctx context.Context, key SlotKey, version CacheVersion, slots []time.Time, ttl time.Duration) error
	// InvalidateProfessional drops every cached computation of the professional.
	InvalidateProfessional(ctx context.Context, professionalID int64) error
	CheckRateLimit(ctx context.Context, subject string, limit int, window time.Duration) (bool, error)
}

type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, event *models.OutboxEvent) error
}

// EventSink delivers an outbox event to an external system.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, event *models.OutboxEvent) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
