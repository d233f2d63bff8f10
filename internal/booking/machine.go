// Package booking holds the booking lifecycle rules. It performs no I/O:
// stores call it inside their transactions.
package booking

import (
	"time"

	"tovis/internal/apperr"
	"tovis/internal/models"
)

type Policy struct {
	// AcceptStartsSession makes PENDING -> ACCEPTED also start the session.
	AcceptStartsSession bool
	// ClientMayCancelAccepted lets the client cancel after acceptance.
	ClientMayCancelAccepted bool
}

func DefaultPolicy() Policy {
	return Policy{ClientMayCancelAccepted: true}
}

type Machine struct {
	policy Policy
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy}
}

func (m *Machine) Policy() Policy { return m.policy }

// Transition moves b to the requested status on behalf of actor. active is
// the professional's currently running session other than b, or nil.
// The returned booking is a modified copy; b is never changed.
func (m *Machine) Transition(b models.Booking, to models.BookingStatus, actor models.Actor, now time.Time, active *models.Booking) (models.Booking, error) {
	if err := m.authorize(b, to, actor); err != nil {
		return b, err
	}
	if b.Status.IsTerminal() {
		return b, apperr.Newf(apperr.KindAlreadyFinalized, "booking %d is already %s", b.ID, b.Status)
	}

	next := b
	switch to {
	case models.StatusAccepted:
		if b.Status != models.StatusPending {
			return b, invalid(b.Status, to)
		}
		next.Status = models.StatusAccepted
		if m.policy.AcceptStartsSession {
			if err := startSession(&next, active, now); err != nil {
				return b, err
			}
		}
	case models.StatusCompleted:
		if b.Status != models.StatusAccepted {
			return b, invalid(b.Status, to)
		}
		next.Status = models.StatusCompleted
		next.FinishedAt = timePtr(now)
	case models.StatusCancelled:
		next.Status = models.StatusCancelled
		if b.IsActive() {
			next.FinishedAt = timePtr(now)
		}
	default:
		return b, invalid(b.Status, to)
	}
	next.UpdatedAt = now
	return next, nil
}

// Start marks an accepted booking as the professional's running session.
func (m *Machine) Start(b models.Booking, actor models.Actor, now time.Time, active *models.Booking) (models.Booking, error) {
	if !actor.OwnsProfessional(b.ProfessionalID) {
		return b, apperr.New(apperr.KindForbidden, "only the booked professional can start the session")
	}
	if b.Status.IsTerminal() {
		return b, apperr.Newf(apperr.KindAlreadyFinalized, "booking %d is already %s", b.ID, b.Status)
	}
	if b.Status != models.StatusAccepted {
		return b, apperr.Newf(apperr.KindInvalidTransition, "booking %d must be accepted before the session starts", b.ID)
	}
	if b.StartedAt != nil {
		return b, apperr.Newf(apperr.KindInvalidTransition, "session for booking %d already started", b.ID)
	}

	next := b
	if err := startSession(&next, active, now); err != nil {
		return b, err
	}
	next.UpdatedAt = now
	return next, nil
}

func (m *Machine) authorize(b models.Booking, to models.BookingStatus, actor models.Actor) error {
	if actor.IsAdmin() || actor.OwnsProfessional(b.ProfessionalID) {
		return nil
	}
	if to == models.StatusCancelled && actor.UserID == b.ClientID && actor.UserID != 0 {
		if b.Status == models.StatusAccepted && !m.policy.ClientMayCancelAccepted {
			return apperr.New(apperr.KindForbidden, "accepted bookings can only be cancelled by the professional")
		}
		return nil
	}
	return apperr.New(apperr.KindForbidden, "only the booked professional can change this booking")
}

func startSession(b *models.Booking, active *models.Booking, now time.Time) error {
	if active != nil && active.ID != b.ID && active.IsActive() {
		return apperr.Newf(apperr.KindConcurrentSession,
			"booking %d is already in progress for this professional", active.ID)
	}
	b.StartedAt = timePtr(now)
	return nil
}

func invalid(from, to models.BookingStatus) error {
	return apperr.Newf(apperr.KindInvalidTransition, "cannot move booking from %s to %s", from, to)
}

func timePtr(t time.Time) *time.Time { return &t }
