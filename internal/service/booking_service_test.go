package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/events"
	"tovis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var published []events.BookingEventPayload
	f.bus.Subscribe(events.EventBookingRequested, func(e *events.Event) error {
		var p events.BookingEventPayload
		require.NoError(t, e.Decode(&p))
		published = append(published, p)
		return nil
	})

	b, err := f.bookings().CreateBooking(ctx, f.client, CreateBookingCommand{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc60.ID,
		ScheduledFor:   at(10, 0),
		Note:           "first visit",
	})
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, f.client.UserID, b.ClientID)
	assert.Equal(t, 60, b.DurationMinutesSnapshot)
	assert.Equal(t, at(10, 0), b.ScheduledFor)

	require.Len(t, published, 1)
	assert.Equal(t, "Haircut", published[0].ServiceName)
	assert.Equal(t, b.ID, published[0].BookingID)

	pending, err := f.db.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, events.EventBookingRequested, pending[0].EventType)
	assert.Equal(t, b.ID, pending[0].BookingID)
	f.queue.AssertCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestCreateBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	f.opts.CreateRateLimit = 0
	ctx := context.Background()

	inactive := &models.Service{ProfessionalID: f.pro.ProfessionalID, Name: "Retired", DurationMinutes: 30}
	require.NoError(t, f.db.SaveService(ctx, inactive))

	f.book(t, f.svc60, at(10, 0))
	_, err := f.blocks().CreateBlock(ctx, f.pro, CreateBlockCommand{
		ProfessionalID: f.pro.ProfessionalID,
		StartsAt:       at(12, 0),
		EndsAt:         at(13, 0),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		actor models.Actor
		cmd   CreateBookingCommand
		want  error
	}{
		{"anonymous", models.Actor{}, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(14, 0)}, apperr.ErrUnauthorized},
		{"own service", f.pro, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(14, 0)}, apperr.ErrForbidden},
		{"unknown service", f.client, CreateBookingCommand{ServiceID: 999, ScheduledFor: at(14, 0)}, apperr.ErrNotFound},
		{"inactive service", f.client, CreateBookingCommand{ServiceID: inactive.ID, ScheduledFor: at(14, 0)}, apperr.ErrInvalidInput},
		{"past", f.client, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(7, 0)}, apperr.ErrInvalidInput},
		{"too far ahead", f.client, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(9, 0).AddDate(1, 0, 0)}, apperr.ErrInvalidInput},
		{"outside working hours", f.client, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(16, 30)}, apperr.ErrInvalidInput},
		{"closed day", f.client, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(10, 0).AddDate(0, 0, 1)}, apperr.ErrInvalidInput},
		{"overlaps booking", f.client, CreateBookingCommand{ServiceID: f.svc30.ID, ScheduledFor: at(10, 30)}, apperr.ErrConflict},
		{"overlaps block", f.client, CreateBookingCommand{ServiceID: f.svc60.ID, ScheduledFor: at(11, 30)}, apperr.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd
			cmd.ProfessionalID = f.pro.ProfessionalID
			_, err := f.bookings().CreateBooking(ctx, tt.actor, cmd)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCreateBooking_TouchingRangesAllowed(t *testing.T) {
	f := newFixture(t)

	first := f.book(t, f.svc60, at(10, 0))
	second := f.book(t, f.svc30, at(11, 0))
	third := f.book(t, f.svc30, at(9, 30))

	assert.Equal(t, first.EndsAt(), second.ScheduledFor)
	assert.Equal(t, third.EndsAt(), first.ScheduledFor)
}

func TestCreateBooking_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.opts.CreateRateLimit = 1
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, f.client, CreateBookingCommand{ProfessionalID: f.pro.ProfessionalID, ServiceID: f.svc30.ID, ScheduledFor: at(9, 0)})
	require.NoError(t, err)

	_, err = svc.CreateBooking(ctx, f.client, CreateBookingCommand{ProfessionalID: f.pro.ProfessionalID, ServiceID: f.svc30.ID, ScheduledFor: at(14, 0)})
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	// limits are per user
	_, err = svc.CreateBooking(ctx, f.other, CreateBookingCommand{ProfessionalID: f.pro.ProfessionalID, ServiceID: f.svc30.ID, ScheduledFor: at(14, 0)})
	assert.NoError(t, err)
}

func TestCreateBooking_CacheFailuresDoNotBlock(t *testing.T) {
	f := newFixture(t)
	cache := &mockCache{}
	cache.On("CheckRateLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	cache.On("InvalidateProfessional", mock.Anything, f.pro.ProfessionalID).Return(errors.New("redis down"))

	svc := NewBookingService(f.db, cache, f.recorder, f.clock, f.opts, f.logger)
	b, err := svc.CreateBooking(context.Background(), f.client, CreateBookingCommand{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc30.ID,
		ScheduledFor:   at(9, 0),
	})
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
	cache.AssertExpectations(t)
}

func TestGetBooking_Visibility(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, f.svc60, at(10, 0))
	svc := f.bookings()
	ctx := context.Background()

	for _, actor := range []models.Actor{f.client, f.pro, models.SystemActor} {
		got, err := svc.GetBooking(ctx, actor, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}

	_, err := svc.GetBooking(ctx, f.other, b.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.GetBooking(ctx, f.client, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, f.svc60, at(10, 0))
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, f.client, b.ID, models.StatusAccepted)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	accepted, err := svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.Nil(t, accepted.StartedAt, "accepting does not start the session")
	assert.Greater(t, accepted.Version, b.Version)

	f.clock.now = at(11, 0)
	completed, err := svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	require.NotNil(t, completed.FinishedAt)
	assert.True(t, completed.FinishedAt.Equal(at(11, 0)))

	_, err = svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFinalized)

	pending, err := f.db.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, e := range pending {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{events.EventBookingRequested, events.EventBookingAccepted, events.EventBookingCompleted}, types)
}

func TestUpdateStatus_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, f.svc60, at(10, 0))
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusPending)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, f.pro, 999, models.StatusAccepted)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateStatus_ClientCancelFreesTime(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, f.svc60, at(10, 0))
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, f.other, b.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	cancelled, err := svc.UpdateStatus(ctx, f.client, b.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	rebooked, err := svc.CreateBooking(ctx, f.other, CreateBookingCommand{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc60.ID,
		ScheduledFor:   at(10, 0),
	})
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, rebooked.ID)
}

func TestUpdateStatus_ClientCancelPolicy(t *testing.T) {
	f := newFixture(t)
	f.opts.Policy.ClientMayCancelAccepted = false
	b := f.book(t, f.svc60, at(10, 0))
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusAccepted)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, f.client, b.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusCancelled)
	assert.NoError(t, err)
}

func TestUpdateStatus_AcceptStartsSession(t *testing.T) {
	f := newFixture(t)
	f.opts.Policy.AcceptStartsSession = true
	first := f.book(t, f.svc60, at(10, 0))
	second := f.book(t, f.svc60, at(12, 0))
	svc := f.bookings()
	ctx := context.Background()

	var started int
	f.bus.Subscribe(events.EventBookingStarted, func(*events.Event) error {
		started++
		return nil
	})

	accepted, err := svc.UpdateStatus(ctx, f.pro, first.ID, models.StatusAccepted)
	require.NoError(t, err)
	assert.NotNil(t, accepted.StartedAt)
	assert.Equal(t, 1, started)

	_, err = svc.UpdateStatus(ctx, f.pro, second.ID, models.StatusAccepted)
	assert.ErrorIs(t, err, apperr.ErrConcurrentSession)

	got, err := svc.GetBooking(ctx, f.pro, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "rejected transition leaves the booking untouched")
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, f.svc60, at(10, 0))
	second := f.book(t, f.svc60, at(12, 0))
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.StartSession(ctx, f.pro, first.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "pending bookings cannot start")

	for _, id := range []int64{first.ID, second.ID} {
		_, err := svc.UpdateStatus(ctx, f.pro, id, models.StatusAccepted)
		require.NoError(t, err)
	}

	_, err = svc.StartSession(ctx, f.client, first.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	f.clock.now = at(10, 2)
	running, err := svc.StartSession(ctx, f.pro, first.ID)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assert.True(t, running.StartedAt.Equal(at(10, 2)))

	_, err = svc.StartSession(ctx, f.pro, first.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = svc.StartSession(ctx, f.pro, second.ID)
	assert.ErrorIs(t, err, apperr.ErrConcurrentSession)

	f.clock.now = at(11, 0)
	_, err = svc.UpdateStatus(ctx, f.pro, first.ID, models.StatusCompleted)
	require.NoError(t, err)

	f.clock.now = at(12, 0)
	_, err = svc.StartSession(ctx, f.pro, second.ID)
	assert.NoError(t, err)
}

func TestCancelRunningSessionFinishesIt(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, f.svc60, at(10, 0))
	svc := f.bookings()
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusAccepted)
	require.NoError(t, err)
	_, err = svc.StartSession(ctx, f.pro, b.ID)
	require.NoError(t, err)

	f.clock.now = at(10, 20)
	cancelled, err := svc.UpdateStatus(ctx, f.pro, b.ID, models.StatusCancelled)
	require.NoError(t, err)
	require.NotNil(t, cancelled.FinishedAt)
	assert.True(t, cancelled.FinishedAt.Equal(at(10, 20)))
	assert.False(t, cancelled.IsActive())
}

func TestOptionsFromConfigKeepsDefaults(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 15*time.Minute, opts.SlotStep)
	assert.True(t, opts.Policy.ClientMayCancelAccepted)
	assert.False(t, opts.Policy.AcceptStartsSession)
}
