package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Backed by a local LRU, Redis, or both (two-phase).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a counter and returns the new value.
	// The counter expires window after its first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Counter returns a counter's current value, 0 when it is absent or its
	// window has passed.
	Counter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type" env:"TYPE"`

	// Local LRU settings
	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"local_ttl" env:"LOCAL_TTL"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"-" yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db" env:"REDIS_DB"`

	// EnableTwoPhase checks the local LRU before Redis.
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase" env:"TWO_PHASE"`
}
