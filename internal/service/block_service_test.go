package service

import (
	"context"
	"testing"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBlock(t *testing.T) {
	f := newFixture(t)
	svc := f.blocks()
	ctx := context.Background()

	var created []events.BlockEventPayload
	f.bus.Subscribe(events.EventBlockCreated, func(e *events.Event) error {
		var p events.BlockEventPayload
		require.NoError(t, e.Decode(&p))
		created = append(created, p)
		return nil
	})

	block, err := svc.CreateBlock(ctx, f.pro, CreateBlockCommand{
		ProfessionalID: f.pro.ProfessionalID,
		StartsAt:       at(12, 0),
		EndsAt:         at(13, 0),
		Note:           "lunch",
	})
	require.NoError(t, err)
	assert.NotZero(t, block.ID)
	require.Len(t, created, 1)
	assert.Equal(t, block.ID, created[0].BlockID)

	tests := []struct {
		name string
		cmd  CreateBlockCommand
		want error
	}{
		{"overlap", CreateBlockCommand{StartsAt: at(12, 30), EndsAt: at(14, 0)}, apperr.ErrConflict},
		{"inverted", CreateBlockCommand{StartsAt: at(15, 0), EndsAt: at(14, 0)}, apperr.ErrInvalidRange},
		{"too short", CreateBlockCommand{StartsAt: at(15, 0), EndsAt: at(15, 10)}, apperr.ErrInvalidRange},
		{"too long", CreateBlockCommand{StartsAt: at(15, 0), EndsAt: at(15, 0).Add(25 * time.Hour)}, apperr.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd
			cmd.ProfessionalID = f.pro.ProfessionalID
			_, err := svc.CreateBlock(ctx, f.pro, cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("touching blocks are fine", func(t *testing.T) {
		_, err := svc.CreateBlock(ctx, f.pro, CreateBlockCommand{ProfessionalID: f.pro.ProfessionalID, StartsAt: at(13, 0), EndsAt: at(13, 15)})
		assert.NoError(t, err)
	})

	t.Run("clients cannot block", func(t *testing.T) {
		_, err := svc.CreateBlock(ctx, f.client, CreateBlockCommand{ProfessionalID: f.pro.ProfessionalID, StartsAt: at(16, 0), EndsAt: at(17, 0)})
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})
}

func TestDeleteAndListBlocks(t *testing.T) {
	f := newFixture(t)
	svc := f.blocks()
	ctx := context.Background()

	first, err := svc.CreateBlock(ctx, f.pro, CreateBlockCommand{ProfessionalID: f.pro.ProfessionalID, StartsAt: at(14, 0), EndsAt: at(15, 0)})
	require.NoError(t, err)
	_, err = svc.CreateBlock(ctx, f.pro, CreateBlockCommand{ProfessionalID: f.pro.ProfessionalID, StartsAt: at(9, 0), EndsAt: at(10, 0)})
	require.NoError(t, err)

	blocks, err := svc.ListBlocks(ctx, f.pro, f.pro.ProfessionalID, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.True(t, blocks[0].StartsAt.Before(blocks[1].StartsAt))

	_, err = svc.ListBlocks(ctx, f.client, f.pro.ProfessionalID, monday, monday.Add(24*time.Hour))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.ListBlocks(ctx, f.pro, f.pro.ProfessionalID, monday, monday)
	assert.ErrorIs(t, err, apperr.ErrInvalidRange)

	assert.ErrorIs(t, svc.DeleteBlock(ctx, f.client, first.ID), apperr.ErrForbidden)

	require.NoError(t, svc.DeleteBlock(ctx, f.pro, first.ID))
	require.NoError(t, svc.DeleteBlock(ctx, f.pro, first.ID), "deleting twice is idempotent")

	blocks, err = svc.ListBlocks(ctx, f.pro, f.pro.ProfessionalID, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestDeleteBlock_MissingBlockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var deleted int
	f.bus.Subscribe(events.EventBlockDeleted, func(*events.Event) error {
		deleted++
		return nil
	})

	cache := &mockCache{}
	svc := NewBlockService(f.db, cache, f.recorder, f.logger)
	require.NoError(t, svc.DeleteBlock(ctx, f.pro, 4242))
	cache.AssertNotCalled(t, "InvalidateProfessional", mock.Anything, mock.Anything)

	cache.On("InvalidateProfessional", mock.Anything, f.pro.ProfessionalID).Return(nil).Twice()
	block, err := svc.CreateBlock(ctx, f.pro, CreateBlockCommand{ProfessionalID: f.pro.ProfessionalID, StartsAt: at(14, 0), EndsAt: at(15, 0)})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBlock(ctx, f.pro, block.ID))
	require.NoError(t, svc.DeleteBlock(ctx, f.pro, block.ID))
	cache.AssertExpectations(t)

	assert.Equal(t, 1, deleted)
	pending, err := f.db.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, e := range pending {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{events.EventBlockCreated, events.EventBlockDeleted}, types)
}
