package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"tovis/internal/database"
	"tovis/internal/domain"
	"tovis/internal/events"
	"tovis/internal/models"
	"tovis/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// monday is 2025-03-03, a Monday.
var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, event *models.OutboxEvent) error {
	return m.Called(ctx, event).Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetSlots(ctx context.Context, key domain.SlotKey) (domain.CachedSlots, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.CachedSlots), args.Error(1)
}

func (m *mockCache) SetSlots(ctx context.Context, key domain.SlotKey, version domain.CacheVersion, slots []time.Time, ttl time.Duration) error {
	return m.Called(ctx, key, version, slots, ttl).Error(0)
}

func (m *mockCache) InvalidateProfessional(ctx context.Context, professionalID int64) error {
	return m.Called(ctx, professionalID).Error(0)
}

func (m *mockCache) CheckRateLimit(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, subject, limit, window)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	db     *database.DB
	cache  *repository.MemoryCacheRepository
	queue  *mockQueue
	bus    *events.EventBus
	clock  *fixedClock
	logger *zerolog.Logger
	opts   Options

	pro      models.Actor
	client   models.Actor
	other    models.Actor
	svc60    *models.Service
	svc30    *models.Service
	recorder *EventRecorder
}

// newFixture seeds one professional working Monday 09:00-17:00 UTC with a
// 60 and a 30 minute service, and two clients. The clock reads Monday 08:00.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "tovis.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	proUser := &models.User{Email: "pro@example.com", Name: "Ana", Role: models.RoleProfessional}
	require.NoError(t, db.CreateUser(ctx, proUser))
	prof := &models.Professional{UserID: proUser.ID, DisplayName: "Ana", Timezone: "UTC"}
	require.NoError(t, db.CreateProfessional(ctx, prof))

	clientUser := &models.User{Email: "client@example.com", Name: "Bo", Role: models.RoleClient}
	require.NoError(t, db.CreateUser(ctx, clientUser))
	otherUser := &models.User{Email: "other@example.com", Name: "Cy", Role: models.RoleClient}
	require.NoError(t, db.CreateUser(ctx, otherUser))

	svc60 := &models.Service{ProfessionalID: prof.ID, Name: "Haircut", DurationMinutes: 60, IsActive: true}
	require.NoError(t, db.SaveService(ctx, svc60))
	svc30 := &models.Service{ProfessionalID: prof.ID, Name: "Beard trim", DurationMinutes: 30, IsActive: true}
	require.NoError(t, db.SaveService(ctx, svc30))

	require.NoError(t, db.SetWorkingHours(ctx, &models.WorkingHours{
		ProfessionalID: prof.ID,
		Timezone:       "UTC",
		Days: models.WeeklySchedule{
			time.Monday: {{Start: 9 * 60, End: 17 * 60}},
		},
	}))

	queue := &mockQueue{}
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Maybe()
	bus := events.NewEventBus()

	f := &fixture{
		db:     db,
		cache:  repository.NewMemoryCacheRepository(),
		queue:  queue,
		bus:    bus,
		clock:  &fixedClock{now: at(8, 0)},
		logger: &logger,
		opts:   DefaultOptions(),
		pro:    models.Actor{UserID: proUser.ID, Role: models.RoleProfessional, ProfessionalID: prof.ID},
		client: models.Actor{UserID: clientUser.ID, Role: models.RoleClient},
		other:  models.Actor{UserID: otherUser.ID, Role: models.RoleClient},
		svc60:  svc60,
		svc30:  svc30,
	}
	f.recorder = NewEventRecorder(bus, queue, &logger)
	return f
}

func (f *fixture) bookings() *BookingService {
	return NewBookingService(f.db, f.cache, f.recorder, f.clock, f.opts, f.logger)
}

func (f *fixture) availability() *AvailabilityService {
	return NewAvailabilityService(f.db, f.cache, f.clock, f.opts, f.logger)
}

func (f *fixture) blocks() *BlockService {
	return NewBlockService(f.db, f.cache, f.recorder, f.logger)
}

func (f *fixture) sessions() *SessionService {
	return NewSessionService(f.db, f.clock, f.opts)
}

func (f *fixture) book(t *testing.T, svc *models.Service, start time.Time) *models.Booking {
	t.Helper()
	b, err := f.bookings().CreateBooking(context.Background(), f.client, CreateBookingCommand{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      svc.ID,
		ScheduledFor:   start,
	})
	require.NoError(t, err)
	return b
}
