package database

import (
	"context"
	"sync"
	"testing"

	"tovis/internal/apperr"
	"tovis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(results chan error) (successes int, failures []error) {
	for err := range results {
		if err == nil {
			successes++
		} else {
			failures = append(failures, err)
		}
	}
	return successes, failures
}

func TestConcurrentBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			b := pendingBooking(1, at(10, 0), 60)
			b.ClientID = int64(100 + id)
			results <- db.CreateBooking(ctx, b, nil)
		}(i)
	}
	wg.Wait()
	close(results)

	successes, failures := collect(results)
	assert.Equal(t, 1, successes, "only one booking may hold the slot")
	for _, err := range failures {
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}

	bookings, err := db.ListBookingsInWindow(ctx, 1, at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestConcurrentBlocks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const numGoroutines = 8
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make(chan error, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(offset int) {
			defer wg.Done()
			results <- db.CreateBlock(ctx, &models.CalendarBlock{
				ProfessionalID: 1,
				StartsAt:       at(10, offset),
				EndsAt:         at(11, offset),
			}, nil)
		}(i * 5)
	}
	wg.Wait()
	close(results)

	successes, failures := collect(results)
	assert.Equal(t, 1, successes, "overlapping blocks must never both persist")
	for _, err := range failures {
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}

	blocks, err := db.ListBlocksInWindow(ctx, 1, at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestConcurrentSessionStart(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const numBookings = 5
	ids := make([]int64, 0, numBookings)
	for i := 0; i < numBookings; i++ {
		b := pendingBooking(1, at(9+i, 0), 60)
		require.NoError(t, db.CreateBooking(ctx, b, nil))
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	wg.Add(numBookings)
	results := make(chan error, numBookings)
	for _, id := range ids {
		go func(id int64) {
			defer wg.Done()
			_, err := db.MutateBooking(ctx, id, func(cur models.Booking, active *models.Booking) (models.Booking, error) {
				if active != nil {
					return cur, apperr.New(apperr.KindConcurrentSession, "busy")
				}
				now := at(9, 0)
				cur.StartedAt = &now
				return cur, nil
			}, nil)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	successes, failures := collect(results)
	assert.Equal(t, 1, successes, "exactly one session may run")
	for _, err := range failures {
		assert.ErrorIs(t, err, apperr.ErrConcurrentSession)
	}
}
