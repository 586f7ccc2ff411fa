package domain

import (
	"context"
	"time"
)

// Cache defines the interface for the read-side cache. The engine's
// read-modify-write paths never read through the cache; it serves the API's
// advisory read endpoints (risk profiles, session stats).
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache. Callers invalidate after writes.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache key builders shared by the API read paths and the writers that
// invalidate them.
func UserRiskKey(userID string) string { return "user:risk:" + userID }

func SessionStatsKey(sessionID string) string { return "session:stats:" + sessionID }

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
