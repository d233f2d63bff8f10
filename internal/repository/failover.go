package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tovis/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCacheRepository serves from primary and switches to fallback on
// the first primary error, retrying primary once recoveryInterval has passed.
type FailoverCacheRepository struct {
	primary   domain.CacheRepository
	fallback  domain.CacheRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverCacheRepository(primary, fallback domain.CacheRepository, logger *zerolog.Logger) *FailoverCacheRepository {
	return &FailoverCacheRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverCacheRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverCacheRepository) record(op string, err error) {
	if err == nil {
		if r.isDown.Swap(false) {
			r.logger.Info().Str("op", op).Msg("Primary cache recovered")
		}
		return
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Str("op", op).Msg("Primary cache failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverCacheRepository) GetSlots(ctx context.Context, key domain.SlotKey) (domain.CachedSlots, error) {
	if r.usePrimary() {
		res, err := r.primary.GetSlots(ctx, key)
		r.record("get_slots", err)
		if err == nil {
			return res, nil
		}
	}
	return r.fallback.GetSlots(ctx, key)
}

// SetSlots hands the version to both backends. Each ignores versions it did
// not issue, so slots read from one backend are never stored in the other.
func (r *FailoverCacheRepository) SetSlots(ctx context.Context, key domain.SlotKey, version domain.CacheVersion, slots []time.Time, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetSlots(ctx, key, version, slots, ttl)
		r.record("set_slots", err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SetSlots(ctx, key, version, slots, ttl)
}

// InvalidateProfessional always clears the fallback too, so entries written
// during an outage never outlive a recovery.
func (r *FailoverCacheRepository) InvalidateProfessional(ctx context.Context, professionalID int64) error {
	fbErr := r.fallback.InvalidateProfessional(ctx, professionalID)
	if r.usePrimary() {
		err := r.primary.InvalidateProfessional(ctx, professionalID)
		r.record("invalidate", err)
		if err == nil {
			return fbErr
		}
	}
	return fbErr
}

func (r *FailoverCacheRepository) CheckRateLimit(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, subject, limit, window)
		r.record("rate_limit", err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, subject, limit, window)
}
