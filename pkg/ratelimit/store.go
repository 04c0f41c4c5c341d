package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// Store persists the backoff deadline.
type Store interface {
	// Load returns the current state; a missing state is the zero state.
	Load(ctx context.Context) (RateLimitState, error)

	// Block records that requests are blocked until the given time.
	Block(ctx context.Context, until time.Time) error
}

// RedisStore shares the backoff deadline across processes.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Load reads the state from Redis.
func (s *RedisStore) Load(ctx context.Context) (RateLimitState, error) {
	var state RateLimitState

	blockedUntil, err := s.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("get blocked until: %w", err)
	}
	if err == nil {
		state.BlockedUntil = time.UnixMilli(blockedUntil)
	}

	lastUpdate, err := s.redis.Get(ctx, RedisKeyLastUpdate).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, fmt.Errorf("get last update: %w", err)
	}
	if err == nil {
		state.LastUpdate = time.UnixMilli(lastUpdate)
	}

	return state, nil
}

// Block stores the deadline; Redis expires the keys once it has passed.
// An earlier deadline never shortens an existing one.
func (s *RedisStore) Block(ctx context.Context, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}

	current, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if current.BlockedUntil.After(until) {
		return nil
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyBlockedUntil, strconv.FormatInt(until.UnixMilli(), 10), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, strconv.FormatInt(time.Now().UnixMilli(), 10), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	return nil
}

const memoryKey = "blocked"

// MemoryStore keeps the deadline in process memory.
type MemoryStore struct {
	cache *ttlcache.Cache[string, RateLimitState]
}

// NewMemoryStore creates an in-process store. Call Close to stop its
// expiry goroutine.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New[string, RateLimitState](
		ttlcache.WithDisableTouchOnHit[string, RateLimitState](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Load returns the in-memory state.
func (s *MemoryStore) Load(ctx context.Context) (RateLimitState, error) {
	item := s.cache.Get(memoryKey)
	if item == nil {
		return RateLimitState{}, nil
	}
	return item.Value(), nil
}

// Block records the deadline until it passes.
func (s *MemoryStore) Block(ctx context.Context, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}

	if item := s.cache.Get(memoryKey); item != nil && item.Value().BlockedUntil.After(until) {
		return nil
	}

	s.cache.Set(memoryKey, RateLimitState{BlockedUntil: until, LastUpdate: time.Now()}, ttl)
	return nil
}

// Close stops the expiry goroutine.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}
