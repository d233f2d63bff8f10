package database

import (
	"context"
	"testing"

	"tovis/internal/apperr"
	"tovis/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBlock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	block := &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(12, 0), EndsAt: at(13, 0), Note: "lunch"}
	require.NoError(t, db.CreateBlock(ctx, block, nil))
	assert.NotZero(t, block.ID)

	err := db.CreateBlock(ctx, &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(12, 30), EndsAt: at(14, 0)}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, db.CreateBlock(ctx, &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(13, 0), EndsAt: at(14, 0)}, nil))
	require.NoError(t, db.CreateBlock(ctx, &models.CalendarBlock{ProfessionalID: 2, StartsAt: at(12, 0), EndsAt: at(13, 0)}, nil))

	err = db.CreateBlock(ctx, &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(15, 0), EndsAt: at(15, 0)}, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidRange)
}

func TestListBlocksInWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, h := range []int{16, 8, 12} {
		require.NoError(t, db.CreateBlock(ctx, &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(h, 0), EndsAt: at(h+1, 0)}, nil))
	}

	blocks, err := db.ListBlocksInWindow(ctx, 1, at(0, 0), at(23, 0))
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.True(t, blocks[0].StartsAt.Equal(at(8, 0)))
	assert.True(t, blocks[2].StartsAt.Equal(at(16, 0)))

	blocks, err = db.ListBlocksInWindow(ctx, 1, at(9, 0), at(12, 0))
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestDeleteBlock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	block := &models.CalendarBlock{ProfessionalID: 1, StartsAt: at(12, 0), EndsAt: at(13, 0)}
	require.NoError(t, db.CreateBlock(ctx, block, nil))

	_, err := db.DeleteBlock(ctx, block.ID, 2, outboxOf("block_deleted"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	deleted, err := db.DeleteBlock(ctx, block.ID, 1, outboxOf("block_deleted"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.DeleteBlock(ctx, block.ID, 1, outboxOf("block_deleted"))
	require.NoError(t, err)
	assert.False(t, deleted, "a missing block is not an error")

	blocks, err := db.ListBlocksInWindow(ctx, 1, at(0, 0), at(23, 0))
	require.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Equal(t, []string{"block_deleted"}, pendingTypes(t, db))
}
