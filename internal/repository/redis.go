package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tovis/internal/config"
	"tovis/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tovis:"

// RedisCacheRepository caches slot computations under a per-professional
// generation counter. Bumping the generation orphans every older entry,
// which then expires through its TTL.
type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{client: client}
}

func generationKey(professionalID int64) string {
	return fmt.Sprintf("%sslots:gen:%d", keyPrefix, professionalID)
}

const redisBackend = "redis"

func slotKey(key domain.SlotKey, generation int64) string {
	return fmt.Sprintf("%sslots:%d:%d:%s", keyPrefix, key.ProfessionalID, generation, key)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, c stringGetter, professionalID int64) (int64, error) {
	gen, err := c.Get(ctx, generationKey(professionalID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to read slot generation: %w", err)
	}
	return gen, nil
}

func (r *RedisCacheRepository) GetSlots(ctx context.Context, key domain.SlotKey) (domain.CachedSlots, error) {
	if r.client == nil {
		return domain.CachedSlots{}, fmt.Errorf("redis client is nil")
	}
	gen, err := readGeneration(ctx, r.client, key.ProfessionalID)
	if err != nil {
		return domain.CachedSlots{}, err
	}
	res := domain.CachedSlots{Version: domain.CacheVersion{Backend: redisBackend, Generation: gen}}
	val, err := r.client.Get(ctx, slotKey(key, gen)).Bytes()
	if err == redis.Nil {
		return res, nil
	}
	if err != nil {
		return domain.CachedSlots{}, fmt.Errorf("failed to get slots from redis: %w", err)
	}

	var unix []int64
	if err := json.Unmarshal(val, &unix); err != nil {
		return domain.CachedSlots{}, fmt.Errorf("failed to unmarshal slots: %w", err)
	}
	res.Slots = make([]time.Time, len(unix))
	for i, s := range unix {
		res.Slots[i] = time.Unix(s, 0).UTC()
	}
	res.Hit = true
	return res, nil
}

// SetSlots writes under the generation the slots were computed for, and only
// while that generation is still current. The check and the write run in one
// WATCH transaction so a concurrent invalidation aborts the write.
func (r *RedisCacheRepository) SetSlots(ctx context.Context, key domain.SlotKey, version domain.CacheVersion, slots []time.Time, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if version.Backend != redisBackend {
		return nil
	}
	unix := make([]int64, len(slots))
	for i, s := range slots {
		unix[i] = s.Unix()
	}
	data, err := json.Marshal(unix)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}

	genKey := generationKey(key.ProfessionalID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGeneration(ctx, tx, key.ProfessionalID)
		if err != nil {
			return err
		}
		if cur != version.Generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, slotKey(key, version.Generation), data, ttl)
			return nil
		})
		return err
	}, genKey)
	if err == redis.TxFailedErr {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to set slots in redis: %w", err)
	}
	return nil
}

func (r *RedisCacheRepository) InvalidateProfessional(ctx context.Context, professionalID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Incr(ctx, generationKey(professionalID)).Err(); err != nil {
		return fmt.Errorf("failed to bump slot generation: %w", err)
	}
	return nil
}

// CheckRateLimit counts hits in a fixed window keyed by subject.
func (r *RedisCacheRepository) CheckRateLimit(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := keyPrefix + "rate_limit:" + subject
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
