package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tovis/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetSlots(ctx context.Context, key domain.SlotKey) (domain.CachedSlots, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.CachedSlots), args.Error(1)
}

func (m *mockCache) SetSlots(ctx context.Context, key domain.SlotKey, version domain.CacheVersion, slots []time.Time, ttl time.Duration) error {
	return m.Called(ctx, key, version, slots, ttl).Error(0)
}

func (m *mockCache) InvalidateProfessional(ctx context.Context, professionalID int64) error {
	return m.Called(ctx, professionalID).Error(0)
}

func (m *mockCache) CheckRateLimit(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, subject, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverCacheRepository(t *testing.T) {
	primary := new(mockCache)
	fallback := new(mockCache)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverCacheRepository(primary, fallback, &logger)
	ctx := context.Background()
	key := testKey(1)
	redisV1 := domain.CacheVersion{Backend: "redis", Generation: 1}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("GetSlots", ctx, key).Return(domain.CachedSlots{Slots: testSlots(), Hit: true, Version: redisV1}, nil).Once()

		got, err := repo.GetSlots(ctx, key)
		assert.NoError(t, err)
		assert.True(t, got.Hit)
		assert.Equal(t, testSlots(), got.Slots)
		assert.Equal(t, redisV1, got.Version)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("GetSlots", ctx, key).Return(domain.CachedSlots{}, errors.New("fail")).Once()
		fallback.On("GetSlots", ctx, key).Return(domain.CachedSlots{Version: domain.CacheVersion{Backend: "memory"}}, nil).Once()

		got, err := repo.GetSlots(ctx, key)
		assert.NoError(t, err)
		assert.False(t, got.Hit)
		assert.Equal(t, "memory", got.Version.Backend)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "client:1", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "client:1", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "CheckRateLimit", ctx, "client:1", 10, time.Minute)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("SetSlots", ctx, key, redisV1, testSlots(), time.Minute).Return(nil).Once()

		err := repo.SetSlots(ctx, key, redisV1, testSlots(), time.Minute)
		assert.NoError(t, err)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("InvalidateClearsBoth", func(t *testing.T) {
		fallback.On("InvalidateProfessional", ctx, int64(1)).Return(nil).Once()
		primary.On("InvalidateProfessional", ctx, int64(1)).Return(nil).Once()

		assert.NoError(t, repo.InvalidateProfessional(ctx, 1))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetFallsBackWithSameVersion", func(t *testing.T) {
		primary.On("SetSlots", ctx, key, redisV1, testSlots(), time.Minute).Return(errors.New("fail")).Once()
		fallback.On("SetSlots", ctx, key, redisV1, testSlots(), time.Minute).Return(nil).Once()

		assert.NoError(t, repo.SetSlots(ctx, key, redisV1, testSlots(), time.Minute))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
		repo.isDown.Store(false)
	})

	t.Run("RateLimitFailover", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "client:6", 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "client:6", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "client:6", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
	})
}
