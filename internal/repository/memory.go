package repository

import (
	"context"
	"sync"
	"time"

	"tovis/internal/domain"
)

// MemoryCacheRepository is the in-process cache used when Redis is not
// configured or unavailable.
type MemoryCacheRepository struct {
	mu          sync.Mutex
	slots       map[string]slotEntry
	generations map[int64]int64
	rateLimits  map[string]*rateLimitEntry
	now         func() time.Time
}

type slotEntry struct {
	professionalID int64
	generation     int64
	slots          []time.Time
	expiresAt      time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{
		slots:       make(map[string]slotEntry),
		generations: make(map[int64]int64),
		rateLimits:  make(map[string]*rateLimitEntry),
		now:         time.Now,
	}
}

const memoryBackend = "memory"

func (r *MemoryCacheRepository) GetSlots(_ context.Context, key domain.SlotKey) (domain.CachedSlots, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := domain.CachedSlots{Version: domain.CacheVersion{Backend: memoryBackend, Generation: r.generations[key.ProfessionalID]}}
	k := key.String()
	entry, ok := r.slots[k]
	if !ok {
		return res, nil
	}
	if r.now().After(entry.expiresAt) || entry.generation != res.Version.Generation {
		delete(r.slots, k)
		return res, nil
	}
	res.Slots = make([]time.Time, len(entry.slots))
	copy(res.Slots, entry.slots)
	res.Hit = true
	return res, nil
}

// SetSlots drops the write when the professional was invalidated after the
// version was read.
func (r *MemoryCacheRepository) SetSlots(_ context.Context, key domain.SlotKey, version domain.CacheVersion, slots []time.Time, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version.Backend != memoryBackend || version.Generation != r.generations[key.ProfessionalID] {
		return nil
	}
	stored := make([]time.Time, len(slots))
	copy(stored, slots)
	r.slots[key.String()] = slotEntry{
		professionalID: key.ProfessionalID,
		generation:     version.Generation,
		slots:          stored,
		expiresAt:      r.now().Add(ttl),
	}
	return nil
}

func (r *MemoryCacheRepository) InvalidateProfessional(_ context.Context, professionalID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generations[professionalID]++
	for k, e := range r.slots {
		if e.professionalID == professionalID {
			delete(r.slots, k)
		}
	}
	return nil
}

func (r *MemoryCacheRepository) CheckRateLimit(_ context.Context, subject string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[subject]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[subject] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
