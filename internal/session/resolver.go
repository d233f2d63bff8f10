// Package session derives a professional's current session view from
// bookings. It is a read-only projection.
package session

import (
	"time"

	"tovis/internal/models"
)

type Resolver struct {
	// Lookback and Horizon bound scheduledFor of UPCOMING candidates:
	// [now-Lookback, now+Horizon].
	Lookback time.Duration
	Horizon  time.Duration
}

func NewResolver(lookback, horizon time.Duration) Resolver {
	if lookback <= 0 {
		lookback = models.DefaultUpcomingLookback
	}
	if horizon <= 0 {
		horizon = models.DefaultUpcomingHorizon
	}
	return Resolver{Lookback: lookback, Horizon: horizon}
}

// Window returns the scheduledFor range to fetch upcoming candidates for.
func (r Resolver) Window(now time.Time) (time.Time, time.Time) {
	return now.Add(-r.Lookback), now.Add(r.Horizon)
}

// Resolve picks ACTIVE (latest startedAt wins), then the earliest UPCOMING
// booking inside the window, else IDLE.
func (r Resolver) Resolve(bookings []*models.Booking, now time.Time) models.SessionView {
	var active *models.Booking
	for _, b := range bookings {
		if b == nil || !b.Status.IsOpen() || !b.IsActive() {
			continue
		}
		if active == nil || b.StartedAt.After(*active.StartedAt) {
			active = b
		}
	}
	if active != nil {
		return models.SessionView{Mode: models.SessionActive, Booking: active}
	}

	from, to := r.Window(now)
	var upcoming *models.Booking
	for _, b := range bookings {
		if b == nil || !b.Status.IsOpen() || b.StartedAt != nil || b.FinishedAt != nil {
			continue
		}
		if b.ScheduledFor.Before(from) || b.ScheduledFor.After(to) {
			continue
		}
		if upcoming == nil || b.ScheduledFor.Before(upcoming.ScheduledFor) {
			upcoming = b
		}
	}
	if upcoming != nil {
		return models.SessionView{Mode: models.SessionUpcoming, Booking: upcoming}
	}
	return models.SessionView{Mode: models.SessionIdle}
}
