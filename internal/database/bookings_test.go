package database

import (
	"context"
	"testing"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking_Overlaps(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := pendingBooking(1, at(10, 0), 60)
	require.NoError(t, db.CreateBooking(ctx, first, nil))
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, int64(1), first.Version)

	err := db.CreateBooking(ctx, pendingBooking(1, at(10, 30), 30), nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// touching ranges do not overlap
	require.NoError(t, db.CreateBooking(ctx, pendingBooking(1, at(11, 0), 30), nil))
	require.NoError(t, db.CreateBooking(ctx, pendingBooking(1, at(9, 30), 30), nil))

	// other professionals are independent
	require.NoError(t, db.CreateBooking(ctx, pendingBooking(2, at(10, 0), 60), nil))

	require.NoError(t, db.CreateBlock(ctx, &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(14, 0), EndsAt: at(15, 0)}, nil))
	err = db.CreateBooking(ctx, pendingBooking(1, at(14, 45), 30), nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "block")

	assert.ErrorIs(t, db.CreateBooking(ctx, pendingBooking(1, at(16, 0), 0), nil), apperr.ErrInvalidInput)
}

func TestCreateBooking_CancelledFreesTime(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b := pendingBooking(1, at(10, 0), 60)
	require.NoError(t, db.CreateBooking(ctx, b, nil))

	_, err := db.MutateBooking(ctx, b.ID, func(cur models.Booking, _ *models.Booking) (models.Booking, error) {
		cur.Status = models.StatusCancelled
		return cur, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, db.CreateBooking(ctx, pendingBooking(1, at(10, 0), 60), nil))
}

func TestMutateBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b := pendingBooking(1, at(10, 0), 60)
	require.NoError(t, db.CreateBooking(ctx, b, nil))

	started := at(10, 2)
	updated, err := db.MutateBooking(ctx, b.ID, func(cur models.Booking, active *models.Booking) (models.Booking, error) {
		assert.Nil(t, active)
		cur.Status = models.StatusAccepted
		cur.StartedAt = &started
		cur.UpdatedAt = started
		return cur, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	require.NotNil(t, updated.StartedAt)
	assert.True(t, updated.StartedAt.Equal(started))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())

	mutateErr := apperr.New(apperr.KindInvalidTransition, "nope")
	_, err = db.MutateBooking(ctx, b.ID, func(cur models.Booking, _ *models.Booking) (models.Booking, error) {
		return cur, mutateErr
	}, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = db.MutateBooking(ctx, 999, func(cur models.Booking, _ *models.Booking) (models.Booking, error) {
		return cur, nil
	}, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMutateBooking_SeesActiveSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := pendingBooking(1, at(10, 0), 60)
	b := pendingBooking(1, at(11, 0), 60)
	require.NoError(t, db.CreateBooking(ctx, a, nil))
	require.NoError(t, db.CreateBooking(ctx, b, nil))

	start := func(cur models.Booking, _ *models.Booking) (models.Booking, error) {
		now := at(10, 0)
		cur.StartedAt = &now
		return cur, nil
	}
	_, err := db.MutateBooking(ctx, a.ID, start, nil)
	require.NoError(t, err)

	var seen *models.Booking
	_, err = db.MutateBooking(ctx, b.ID, func(cur models.Booking, active *models.Booking) (models.Booking, error) {
		seen = active
		return start(cur, active)
	}, nil)
	require.NotNil(t, seen)
	assert.Equal(t, a.ID, seen.ID)
	assert.ErrorIs(t, err, apperr.ErrConcurrentSession)
}

func TestListBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	early := pendingBooking(1, at(9, 0), 30)
	late := pendingBooking(1, at(15, 0), 30)
	cancelled := pendingBooking(1, at(12, 0), 30)
	for _, b := range []*models.Booking{late, early, cancelled} {
		require.NoError(t, db.CreateBooking(ctx, b, nil))
	}
	_, err := db.MutateBooking(ctx, cancelled.ID, func(cur models.Booking, _ *models.Booking) (models.Booking, error) {
		cur.Status = models.StatusCancelled
		return cur, nil
	}, nil)
	require.NoError(t, err)

	window, err := db.ListBookingsInWindow(ctx, 1, at(0, 0), at(23, 0))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, early.ID, window[0].ID)
	assert.Equal(t, late.ID, window[1].ID)

	// a booking ending exactly at the window start is outside it
	window, err = db.ListBookingsInWindow(ctx, 1, at(9, 30), at(10, 0))
	require.NoError(t, err)
	assert.Empty(t, window)

	export, err := db.ListBookingsForExport(ctx, 1, at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Len(t, export, 3)

	candidates, err := db.ListSessionCandidates(ctx, 1, at(8, 30), at(11, 30))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, early.ID, candidates[0].ID)
}

func TestListSessionCandidates_IncludesRunningSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	b := pendingBooking(1, at(6, 0), 60)
	require.NoError(t, db.CreateBooking(ctx, b, nil))
	_, err := db.MutateBooking(ctx, b.ID, func(cur models.Booking, _ *models.Booking) (models.Booking, error) {
		now := at(6, 5)
		cur.Status = models.StatusAccepted
		cur.StartedAt = &now
		return cur, nil
	}, nil)
	require.NoError(t, err)

	candidates, err := db.ListSessionCandidates(ctx, 1, at(12, 0), at(15, 0))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].IsActive())
	assert.WithinDuration(t, at(6, 5), *candidates[0].StartedAt, time.Second)
}
