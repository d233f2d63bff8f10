package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func clockTimes(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.UTC().Format("15:04")
	}
	return out
}

func TestGetSlots_MondayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.blocks().CreateBlock(ctx, f.pro, CreateBlockCommand{
		ProfessionalID: f.pro.ProfessionalID,
		StartsAt:       at(12, 0),
		EndsAt:         at(13, 0),
		Note:           "lunch",
	})
	require.NoError(t, err)
	f.book(t, f.svc30, at(10, 0))

	slots, err := f.availability().GetSlots(ctx, SlotQuery{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc30.ID,
		From:           monday,
		To:             monday.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	want := []string{
		"09:00", "09:15", "09:30",
		"10:30", "10:45", "11:00", "11:15", "11:30",
		"13:00", "13:15", "13:30", "13:45", "14:00", "14:15", "14:30", "14:45",
		"15:00", "15:15", "15:30", "15:45", "16:00", "16:15", "16:30",
	}
	assert.Equal(t, want, clockTimes(slots))
}

func TestGetSlots_CacheInvalidatedByWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := SlotQuery{ProfessionalID: f.pro.ProfessionalID, ServiceID: f.svc60.ID, From: monday, To: monday.Add(24 * time.Hour)}

	before, err := f.availability().GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Len(t, before, 29)

	f.book(t, f.svc60, at(9, 0))
	afterBooking, err := f.availability().GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "10:00", afterBooking[0].Format("15:04"))

	_, err = f.blocks().CreateBlock(ctx, f.pro, CreateBlockCommand{ProfessionalID: f.pro.ProfessionalID, StartsAt: at(10, 0), EndsAt: at(17, 0)})
	require.NoError(t, err)
	afterBlock, err := f.availability().GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, afterBlock)

	err = NewScheduleService(f.db, f.cache, f.logger).SetWorkingHours(ctx, f.pro, &models.WorkingHours{
		ProfessionalID: f.pro.ProfessionalID,
		Timezone:       "UTC",
		Days:           models.WeeklySchedule{time.Monday: {{Start: 9 * 60, End: 20 * 60}}},
	})
	require.NoError(t, err)
	afterHours, err := f.availability().GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"17:00", "17:15", "17:30", "17:45", "18:00", "18:15", "18:30", "18:45", "19:00"}, clockTimes(afterHours))
}

func TestGetSlots_PastSlotsFilteredOnCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := SlotQuery{ProfessionalID: f.pro.ProfessionalID, ServiceID: f.svc60.ID, From: monday, To: monday.Add(24 * time.Hour)}

	_, err := f.availability().GetSlots(ctx, q)
	require.NoError(t, err)

	f.clock.now = at(15, 50)
	slots, err := f.availability().GetSlots(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"16:00"}, clockTimes(slots))
}

func TestGetSlots_UsesCache(t *testing.T) {
	f := newFixture(t)
	cached := []time.Time{at(9, 0), at(13, 0)}
	cache := &mockCache{}
	cache.On("GetSlots", mock.Anything, mock.MatchedBy(func(k domain.SlotKey) bool {
		return k.ProfessionalID == f.pro.ProfessionalID && k.Step == f.opts.SlotStep
	})).Return(domain.CachedSlots{Slots: cached, Hit: true}, nil).Once()

	svc := NewAvailabilityService(f.db, cache, f.clock, f.opts, f.logger)
	slots, err := svc.GetSlots(context.Background(), SlotQuery{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc60.ID,
		From:           monday,
		To:             monday.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, cached, slots)
	cache.AssertNotCalled(t, "SetSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetSlots_SkipsCacheWriteOnReadError(t *testing.T) {
	f := newFixture(t)
	cache := &mockCache{}
	cache.On("GetSlots", mock.Anything, mock.Anything).Return(domain.CachedSlots{}, errors.New("cache down")).Once()

	svc := NewAvailabilityService(f.db, cache, f.clock, f.opts, f.logger)
	slots, err := svc.GetSlots(context.Background(), SlotQuery{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc60.ID,
		From:           monday,
		To:             monday.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, slots, 29)
	cache.AssertNotCalled(t, "SetSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// interleavedStore books a slot after the first bookings read of a slot
// computation has returned, so the computation works from a stale view.
type interleavedStore struct {
	domain.Store
	write func()
	done  bool
}

func (s *interleavedStore) ListBookingsInWindow(ctx context.Context, professionalID int64, from, to time.Time) ([]*models.Booking, error) {
	bookings, err := s.Store.ListBookingsInWindow(ctx, professionalID, from, to)
	if err == nil && !s.done {
		s.done = true
		s.write()
	}
	return bookings, err
}

func TestGetSlots_WriteDuringComputeIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := SlotQuery{ProfessionalID: f.pro.ProfessionalID, ServiceID: f.svc60.ID, From: monday, To: monday.Add(24 * time.Hour)}

	store := &interleavedStore{Store: f.db, write: func() { f.book(t, f.svc60, at(10, 0)) }}
	svc := NewAvailabilityService(store, f.cache, f.clock, f.opts, f.logger)

	stale, err := svc.GetSlots(ctx, q)
	require.NoError(t, err)
	require.Contains(t, clockTimes(stale), "10:00", "the first read predates the booking")

	fresh, err := svc.GetSlots(ctx, q)
	require.NoError(t, err)
	assert.NotContains(t, clockTimes(fresh), "10:00")
}

func TestGetSlots_Validation(t *testing.T) {
	f := newFixture(t)
	svc := f.availability()
	ctx := context.Background()

	tests := []struct {
		name string
		q    SlotQuery
		want error
	}{
		{"empty window", SlotQuery{ServiceID: f.svc60.ID, From: monday, To: monday}, apperr.ErrInvalidRange},
		{"window too large", SlotQuery{ServiceID: f.svc60.ID, From: monday, To: monday.AddDate(0, 2, 0)}, apperr.ErrInvalidRange},
		{"unknown service", SlotQuery{ServiceID: 999, From: monday, To: monday.Add(time.Hour)}, apperr.ErrNotFound},
		{"foreign service", SlotQuery{ProfessionalID: 999, ServiceID: f.svc60.ID, From: monday, To: monday.Add(time.Hour)}, apperr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.q
			if q.ProfessionalID == 0 {
				q.ProfessionalID = f.pro.ProfessionalID
			}
			_, err := svc.GetSlots(ctx, q)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGetSlots_Timezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := NewScheduleService(f.db, f.cache, f.logger).SetWorkingHours(ctx, f.pro, &models.WorkingHours{
		ProfessionalID: f.pro.ProfessionalID,
		Timezone:       "Europe/Berlin",
		Days:           models.WeeklySchedule{time.Monday: {{Start: 9 * 60, End: 11 * 60}}},
	})
	require.NoError(t, err)

	slots, err := f.availability().GetSlots(ctx, SlotQuery{
		ProfessionalID: f.pro.ProfessionalID,
		ServiceID:      f.svc60.ID,
		From:           monday,
		To:             monday.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	// 09:00-11:00 CET is 08:00-10:00 UTC.
	assert.Equal(t, []string{"08:00", "08:15", "08:30", "08:45", "09:00"}, clockTimes(slots))
}
