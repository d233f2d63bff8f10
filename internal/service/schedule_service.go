package service

import (
	"context"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"

	"github.com/rs/zerolog"
)

type ScheduleService struct {
	store  domain.ScheduleStore
	cache  domain.CacheRepository
	logger *zerolog.Logger
}

func NewScheduleService(store domain.ScheduleStore, cache domain.CacheRepository, logger *zerolog.Logger) *ScheduleService {
	return &ScheduleService{store: store, cache: cache, logger: logger}
}

func (s *ScheduleService) GetWorkingHours(ctx context.Context, professionalID int64) (*models.WorkingHours, error) {
	return s.store.GetWorkingHours(ctx, professionalID)
}

// SetWorkingHours replaces the weekly schedule of the professional.
func (s *ScheduleService) SetWorkingHours(ctx context.Context, actor models.Actor, wh *models.WorkingHours) error {
	if !canManage(actor, wh.ProfessionalID) {
		return apperr.New(apperr.KindForbidden, "only the professional can change their working hours")
	}
	if err := wh.Validate(); err != nil {
		return err
	}
	if err := s.store.SetWorkingHours(ctx, wh); err != nil {
		return err
	}

	s.logger.Info().Int64("professional_id", wh.ProfessionalID).Str("timezone", wh.Timezone).Msg("Working hours updated")
	invalidateSlots(ctx, s.cache, s.logger, wh.ProfessionalID)
	return nil
}
