package service

import (
	"context"
	"fmt"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/availability"
	"tovis/internal/booking"
	"tovis/internal/domain"
	"tovis/internal/events"
	"tovis/internal/metrics"
	"tovis/internal/models"
	"tovis/internal/timerange"

	"github.com/rs/zerolog"
)

type CreateBookingCommand struct {
	ProfessionalID int64
	ServiceID      int64
	ScheduledFor   time.Time
	Note           string
}

type BookingService struct {
	store    domain.Store
	cache    domain.CacheRepository
	recorder *EventRecorder
	machine  *booking.Machine
	clock    domain.Clock
	opts     Options
	logger   *zerolog.Logger
}

func NewBookingService(
	store domain.Store,
	cache domain.CacheRepository,
	recorder *EventRecorder,
	clock domain.Clock,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &BookingService{
		store:    store,
		cache:    cache,
		recorder: recorder,
		machine:  booking.NewMachine(opts.Policy),
		clock:    clock,
		opts:     opts,
		logger:   logger,
	}
}

// CreateBooking validates the request against the service catalog and the
// professional's open time, then inserts a PENDING booking. Overlaps with
// other bookings are detected by the store inside its transaction.
func (s *BookingService) CreateBooking(ctx context.Context, actor models.Actor, cmd CreateBookingCommand) (*models.Booking, error) {
	if actor.UserID == 0 {
		return nil, apperr.ErrUnauthorized
	}
	if actor.Role == models.RoleProfessional && actor.OwnsProfessional(cmd.ProfessionalID) {
		return nil, apperr.New(apperr.KindForbidden, "professionals cannot book their own services")
	}
	if err := s.checkRateLimit(ctx, actor); err != nil {
		return nil, err
	}

	svc, err := s.store.GetService(ctx, cmd.ServiceID)
	if err != nil {
		return nil, err
	}
	if svc.ProfessionalID != cmd.ProfessionalID || !svc.IsActive {
		return nil, apperr.Newf(apperr.KindInvalidInput, "service %d is not offered by professional %d", cmd.ServiceID, cmd.ProfessionalID)
	}

	now := s.clock.Now()
	start := cmd.ScheduledFor.UTC().Truncate(time.Second)
	if start.Before(now) {
		return nil, apperr.New(apperr.KindInvalidInput, "cannot book a time in the past")
	}
	if s.opts.MaxAdvance > 0 && start.After(now.Add(s.opts.MaxAdvance)) {
		return nil, apperr.Newf(apperr.KindInvalidInput, "bookings can be made at most %d days ahead", int(s.opts.MaxAdvance.Hours()/24))
	}

	r, err := timerange.FromDuration(start, svc.Duration())
	if err != nil {
		return nil, err
	}
	if err := s.checkOpenTime(ctx, cmd.ProfessionalID, r); err != nil {
		return nil, err
	}

	b := &models.Booking{
		ProfessionalID:          cmd.ProfessionalID,
		ClientID:                actor.UserID,
		ServiceID:               svc.ID,
		ScheduledFor:            start,
		DurationMinutesSnapshot: svc.DurationMinutes,
		Status:                  models.StatusPending,
		Note:                    cmd.Note,
	}
	outbox, dispatch := s.recorder.Stage(func() []OutboxEntry {
		payload := events.NewBookingPayload(b, actor)
		payload.ServiceName = svc.Name
		return []OutboxEntry{{EventType: events.EventBookingRequested, BookingID: b.ID, ProfessionalID: b.ProfessionalID, Payload: payload}}
	})
	if err := s.store.CreateBooking(ctx, b, outbox); err != nil {
		countRejection(err)
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("professional_id", b.ProfessionalID).
		Int64("client_id", b.ClientID).
		Time("scheduled_for", b.ScheduledFor).
		Msg("Booking requested")

	invalidateSlots(ctx, s.cache, s.logger, b.ProfessionalID)
	dispatch(ctx)
	return b, nil
}

// checkOpenTime rejects ranges outside working hours with InvalidInput and
// ranges overlapping a block with Conflict.
func (s *BookingService) checkOpenTime(ctx context.Context, professionalID int64, r timerange.Range) error {
	wh, err := s.store.GetWorkingHours(ctx, professionalID)
	if err != nil {
		return err
	}
	open, err := availability.Fits(*wh, nil, r)
	if err != nil {
		return err
	}
	if !open {
		return apperr.New(apperr.KindInvalidInput, "requested time is outside working hours")
	}

	blocks, err := s.store.ListBlocksInWindow(ctx, professionalID, r.Start(), r.End())
	if err != nil {
		return err
	}
	if len(blocks) > 0 {
		metrics.IncConflict(string(apperr.KindConflict))
		return apperr.New(apperr.KindConflict, "time overlaps an existing block, pick another time")
	}
	return nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, actor models.Actor) error {
	if s.cache == nil || s.opts.CreateRateLimit <= 0 || actor.IsAdmin() {
		return nil
	}
	allowed, err := s.cache.CheckRateLimit(ctx, fmt.Sprintf("create_booking:%d", actor.UserID), s.opts.CreateRateLimit, s.opts.CreateRateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", actor.UserID).Msg("rate limit check failed")
		return nil
	}
	if !allowed {
		return apperr.ErrRateLimited
	}
	return nil
}

// GetBooking returns a booking visible to its client, its professional or an
// admin.
func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, apperr.Newf(apperr.KindForbidden, "booking %d belongs to another account", id)
	}
	return b, nil
}

// UpdateStatus applies a status transition inside the store transaction.
func (s *BookingService) UpdateStatus(ctx context.Context, actor models.Actor, id int64, to models.BookingStatus) (*models.Booking, error) {
	var (
		from    models.BookingStatus
		next    models.Booking
		started bool
	)
	now := s.clock.Now().UTC()
	outbox, dispatch := s.recorder.Stage(func() []OutboxEntry {
		payload := events.NewBookingPayload(&next, actor)
		entries := []OutboxEntry{{EventType: events.EventForStatus(next.Status), BookingID: next.ID, ProfessionalID: next.ProfessionalID, Payload: payload}}
		if started {
			entries = append(entries, OutboxEntry{EventType: events.EventBookingStarted, BookingID: next.ID, ProfessionalID: next.ProfessionalID, Payload: payload})
		}
		return entries
	})
	updated, err := s.store.MutateBooking(ctx, id, func(current models.Booking, active *models.Booking) (models.Booking, error) {
		from = current.Status
		n, err := s.machine.Transition(current, to, actor, now, active)
		if err != nil {
			return current, err
		}
		next = n
		started = current.StartedAt == nil && n.StartedAt != nil
		return n, nil
	}, outbox)
	if err != nil {
		countRejection(err)
		return nil, err
	}

	metrics.IncTransition(string(from), string(to))
	s.logger.Info().
		Int64("booking_id", updated.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Int64("actor_id", actor.UserID).
		Msg("Booking status changed")

	invalidateSlots(ctx, s.cache, s.logger, updated.ProfessionalID)
	dispatch(ctx)
	return updated, nil
}

// StartSession marks an accepted booking as running.
func (s *BookingService) StartSession(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error) {
	var next models.Booking
	now := s.clock.Now().UTC()
	outbox, dispatch := s.recorder.Stage(func() []OutboxEntry {
		return []OutboxEntry{{
			EventType:      events.EventBookingStarted,
			BookingID:      next.ID,
			ProfessionalID: next.ProfessionalID,
			Payload:        events.NewBookingPayload(&next, actor),
		}}
	})
	updated, err := s.store.MutateBooking(ctx, id, func(current models.Booking, active *models.Booking) (models.Booking, error) {
		n, err := s.machine.Start(current, actor, now, active)
		if err != nil {
			return current, err
		}
		next = n
		return n, nil
	}, outbox)
	if err != nil {
		countRejection(err)
		return nil, err
	}

	s.logger.Info().Int64("booking_id", updated.ID).Int64("professional_id", updated.ProfessionalID).Msg("Session started")
	dispatch(ctx)
	return updated, nil
}

func canView(actor models.Actor, b *models.Booking) bool {
	return actor.IsAdmin() || actor.OwnsProfessional(b.ProfessionalID) || (actor.UserID != 0 && actor.UserID == b.ClientID)
}

func canManage(actor models.Actor, professionalID int64) bool {
	return actor.IsAdmin() || actor.OwnsProfessional(professionalID)
}

func countRejection(err error) {
	switch kind := apperr.KindOf(err); kind {
	case apperr.KindConflict, apperr.KindConcurrentSession:
		metrics.IncConflict(string(kind))
	}
}

func invalidateSlots(ctx context.Context, cache domain.CacheRepository, logger *zerolog.Logger, professionalID int64) {
	if cache == nil {
		return
	}
	if err := cache.InvalidateProfessional(ctx, professionalID); err != nil {
		logger.Warn().Err(err).Int64("professional_id", professionalID).Msg("slot cache invalidation failed")
	}
}
