package service

import (
	"context"

	"tovis/internal/apperr"
	"tovis/internal/domain"
	"tovis/internal/models"
	"tovis/internal/session"
)

type SessionService struct {
	store    domain.BookingStore
	resolver session.Resolver
	clock    domain.Clock
}

func NewSessionService(store domain.BookingStore, clock domain.Clock, opts Options) *SessionService {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &SessionService{
		store:    store,
		resolver: session.NewResolver(opts.UpcomingLookback, opts.UpcomingHorizon),
		clock:    clock,
	}
}

// ResolveSession reports what the professional is doing right now. It reads
// committed state only and takes no locks.
func (s *SessionService) ResolveSession(ctx context.Context, actor models.Actor, professionalID int64) (models.SessionView, error) {
	if !canManage(actor, professionalID) {
		return models.SessionView{}, apperr.New(apperr.KindForbidden, "session state is visible to its professional only")
	}

	now := s.clock.Now()
	from, to := s.resolver.Window(now)
	candidates, err := s.store.ListSessionCandidates(ctx, professionalID, from, to)
	if err != nil {
		return models.SessionView{}, err
	}
	return s.resolver.Resolve(candidates, now), nil
}
