package service

import (
	"context"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/events"
	"tovis/internal/models"
	"tovis/internal/timerange"

	"github.com/rs/zerolog"
)

type CreateBlockCommand struct {
	ProfessionalID int64
	StartsAt       time.Time
	EndsAt         time.Time
	Note           string
}

// BlockService manages calendar blocks. Blocks are created and deleted by
// the owning professional and never edited.
type BlockService struct {
	store    domain.BlockStore
	cache    domain.CacheRepository
	recorder *EventRecorder
	logger   *zerolog.Logger
}

func NewBlockService(store domain.BlockStore, cache domain.CacheRepository, recorder *EventRecorder, logger *zerolog.Logger) *BlockService {
	return &BlockService{
		store:    store,
		cache:    cache,
		recorder: recorder,
		logger:   logger,
	}
}

func (s *BlockService) CreateBlock(ctx context.Context, actor models.Actor, cmd CreateBlockCommand) (*models.CalendarBlock, error) {
	if !canManage(actor, cmd.ProfessionalID) {
		return nil, apperr.New(apperr.KindForbidden, "only the professional can block their calendar")
	}

	r, err := timerange.New(cmd.StartsAt.UTC(), cmd.EndsAt.UTC())
	if err != nil {
		return nil, err
	}
	if d := r.Duration(); d < models.MinBlockDuration || d > models.MaxBlockDuration {
		return nil, apperr.Newf(apperr.KindInvalidRange, "block must last between %s and %s", models.MinBlockDuration, models.MaxBlockDuration)
	}

	block := &models.CalendarBlock{
		ProfessionalID: cmd.ProfessionalID,
		StartsAt:       r.Start(),
		EndsAt:         r.End(),
		Note:           cmd.Note,
	}
	outbox, dispatch := s.recorder.Stage(func() []OutboxEntry {
		return []OutboxEntry{{
			EventType:      events.EventBlockCreated,
			ProfessionalID: block.ProfessionalID,
			Payload: events.BlockEventPayload{
				BlockID:        block.ID,
				ProfessionalID: block.ProfessionalID,
				StartsAt:       block.StartsAt,
				EndsAt:         block.EndsAt,
			},
		}}
	})
	if err := s.store.CreateBlock(ctx, block, outbox); err != nil {
		countRejection(err)
		return nil, err
	}

	s.logger.Info().Int64("block_id", block.ID).Int64("professional_id", block.ProfessionalID).Msg("Calendar block created")
	invalidateSlots(ctx, s.cache, s.logger, block.ProfessionalID)
	dispatch(ctx)
	return block, nil
}

// DeleteBlock removes one of the actor's blocks. Deleting a missing block
// succeeds and changes nothing.
func (s *BlockService) DeleteBlock(ctx context.Context, actor models.Actor, blockID int64) error {
	if actor.ProfessionalID == 0 {
		return apperr.New(apperr.KindForbidden, "only professionals can delete calendar blocks")
	}
	outbox, dispatch := s.recorder.Stage(func() []OutboxEntry {
		return []OutboxEntry{{
			EventType:      events.EventBlockDeleted,
			ProfessionalID: actor.ProfessionalID,
			Payload:        events.BlockEventPayload{BlockID: blockID, ProfessionalID: actor.ProfessionalID},
		}}
	})
	deleted, err := s.store.DeleteBlock(ctx, blockID, actor.ProfessionalID, outbox)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	s.logger.Info().Int64("block_id", blockID).Int64("professional_id", actor.ProfessionalID).Msg("Calendar block deleted")
	invalidateSlots(ctx, s.cache, s.logger, actor.ProfessionalID)
	dispatch(ctx)
	return nil
}

func (s *BlockService) ListBlocks(ctx context.Context, actor models.Actor, professionalID int64, from, to time.Time) ([]*models.CalendarBlock, error) {
	if !canManage(actor, professionalID) {
		return nil, apperr.New(apperr.KindForbidden, "calendar blocks are visible to their professional only")
	}
	if _, err := timerange.New(from, to); err != nil {
		return nil, err
	}
	return s.store.ListBlocksInWindow(ctx, professionalID, from, to)
}
