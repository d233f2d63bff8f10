package service

import (
	"time"

	"tovis/internal/booking"
	"tovis/internal/config"
	"tovis/internal/models"
)

// Options carries the booking rules shared by the services.
type Options struct {
	SlotStep         time.Duration
	MaxWindow        time.Duration
	MaxAdvance       time.Duration
	UpcomingLookback time.Duration
	UpcomingHorizon  time.Duration
	Policy           booking.Policy
	CreateRateLimit  int
	CreateRateWindow time.Duration
	SlotCacheTTL     time.Duration
}

func DefaultOptions() Options {
	return Options{
		SlotStep:         models.DefaultSlotStep,
		MaxWindow:        time.Duration(models.DefaultMaxWindowDays) * 24 * time.Hour,
		MaxAdvance:       time.Duration(models.DefaultMaxAdvanceDays) * 24 * time.Hour,
		UpcomingLookback: models.DefaultUpcomingLookback,
		UpcomingHorizon:  models.DefaultUpcomingHorizon,
		Policy:           booking.DefaultPolicy(),
		CreateRateLimit:  models.DefaultCreateRateLimit,
		CreateRateWindow: models.DefaultCreateRateWindow,
		SlotCacheTTL:     models.DefaultSlotCacheTTL,
	}
}

func OptionsFromConfig(cfg config.BookingConfig) Options {
	opts := DefaultOptions()
	if cfg.SlotStep > 0 {
		opts.SlotStep = cfg.SlotStep
	}
	if cfg.MaxWindowDays > 0 {
		opts.MaxWindow = time.Duration(cfg.MaxWindowDays) * 24 * time.Hour
	}
	if cfg.MaxAdvanceDays > 0 {
		opts.MaxAdvance = time.Duration(cfg.MaxAdvanceDays) * 24 * time.Hour
	}
	if cfg.UpcomingLookback > 0 {
		opts.UpcomingLookback = cfg.UpcomingLookback
	}
	if cfg.UpcomingHorizon > 0 {
		opts.UpcomingHorizon = cfg.UpcomingHorizon
	}
	opts.Policy.AcceptStartsSession = cfg.AcceptStartsSession
	if cfg.ClientMayCancelAccepted != nil {
		opts.Policy.ClientMayCancelAccepted = *cfg.ClientMayCancelAccepted
	}
	if cfg.CreateRateLimit > 0 {
		opts.CreateRateLimit = cfg.CreateRateLimit
	}
	if cfg.CreateRateWindow > 0 {
		opts.CreateRateWindow = cfg.CreateRateWindow
	}
	if cfg.SlotCacheTTL > 0 {
		opts.SlotCacheTTL = cfg.SlotCacheTTL
	}
	return opts
}
