package service

import (
	"context"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/availability"
	"tovis/internal/domain"
	"tovis/internal/metrics"
	"tovis/internal/models"
	"tovis/internal/timerange"

	"github.com/rs/zerolog"
)

type SlotQuery struct {
	ProfessionalID int64
	ServiceID      int64
	From           time.Time
	To             time.Time
}

// AvailabilityService answers slot queries. Computed slot lists are cached
// per window without the past-slot cutoff, which is applied on every read.
type AvailabilityService struct {
	store  domain.Store
	cache  domain.CacheRepository
	clock  domain.Clock
	opts   Options
	logger *zerolog.Logger
}

func NewAvailabilityService(store domain.Store, cache domain.CacheRepository, clock domain.Clock, opts Options, logger *zerolog.Logger) *AvailabilityService {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &AvailabilityService{
		store:  store,
		cache:  cache,
		clock:  clock,
		opts:   opts,
		logger: logger,
	}
}

func (s *AvailabilityService) GetSlots(ctx context.Context, q SlotQuery) ([]time.Time, error) {
	window, err := timerange.New(q.From.UTC(), q.To.UTC())
	if err != nil {
		return nil, err
	}
	if s.opts.MaxWindow > 0 && window.Duration() > s.opts.MaxWindow {
		return nil, apperr.Newf(apperr.KindInvalidRange, "availability window is limited to %d days", int(s.opts.MaxWindow.Hours()/24))
	}

	svc, err := s.store.GetService(ctx, q.ServiceID)
	if err != nil {
		return nil, err
	}
	if svc.ProfessionalID != q.ProfessionalID || !svc.IsActive {
		return nil, apperr.Newf(apperr.KindInvalidInput, "service %d is not offered by professional %d", q.ServiceID, q.ProfessionalID)
	}

	now := s.clock.Now()
	key := domain.SlotKey{
		ProfessionalID: q.ProfessionalID,
		ServiceID:      q.ServiceID,
		From:           window.Start(),
		To:             window.End(),
		Step:           s.opts.SlotStep,
	}

	// version is the cache generation read before compute. Writes that land
	// during compute bump it, and the cache then refuses the stale result.
	var version *domain.CacheVersion
	if s.cache != nil {
		cached, err := s.cache.GetSlots(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key.String()).Msg("slot cache read failed")
		} else if cached.Hit {
			metrics.ObserveSlots("hit", 0)
			return notBefore(cached.Slots, now), nil
		} else {
			version = &cached.Version
		}
	}

	started := time.Now()
	slots, err := s.compute(ctx, svc, window)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSlots("miss", time.Since(started).Seconds())

	if version != nil {
		if err := s.cache.SetSlots(ctx, key, *version, slots, s.opts.SlotCacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("key", key.String()).Msg("slot cache write failed")
		}
	}
	return notBefore(slots, now), nil
}

func (s *AvailabilityService) compute(ctx context.Context, svc *models.Service, window timerange.Range) ([]time.Time, error) {
	wh, err := s.store.GetWorkingHours(ctx, svc.ProfessionalID)
	if err != nil {
		return nil, err
	}

	// Bookings and blocks reaching into the window from outside still
	// shorten its free ranges.
	from, to := window.Start().Add(-svc.Duration()), window.End().Add(svc.Duration())
	blocks, err := s.store.ListBlocksInWindow(ctx, svc.ProfessionalID, from, to)
	if err != nil {
		return nil, err
	}
	bookings, err := s.store.ListBookingsInWindow(ctx, svc.ProfessionalID, from, to)
	if err != nil {
		return nil, err
	}

	req := availability.Request{
		WorkingHours: *wh,
		From:         window.Start(),
		To:           window.End(),
		Duration:     svc.Duration(),
		Step:         s.opts.SlotStep,
		Blocks:       make([]timerange.Range, 0, len(blocks)),
		Busy:         make([]timerange.Range, 0, len(bookings)),
	}
	for _, b := range blocks {
		if r, err := b.Range(); err == nil {
			req.Blocks = append(req.Blocks, r)
		}
	}
	for _, b := range bookings {
		if !b.OccupiesTime() {
			continue
		}
		if r, err := b.Range(); err == nil {
			req.Busy = append(req.Busy, r)
		}
	}
	return availability.Slots(req)
}

func notBefore(slots []time.Time, now time.Time) []time.Time {
	out := make([]time.Time, 0, len(slots))
	for _, t := range slots {
		if !t.Before(now) {
			out = append(out, t)
		}
	}
	return out
}
