package cache

import (
	"context"
	"time"
)

// Cacher defines the interface for cache operations
type Cacher interface {
	// Generic
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Market Data
	SetBars(ctx context.Context, symbol string, bars interface{}, expiration time.Duration) error
	GetBars(ctx context.Context, symbol string, dest interface{}) error

	// Backtest Results
	SetResult(ctx context.Context, runID string, result interface{}, expiration time.Duration) error
	GetResult(ctx context.Context, runID string, dest interface{}) error
	DeleteResult(ctx context.Context, runID string) error

	// Locks
	AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error

	Close() error
}

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errCacheMiss{}

type errCacheMiss struct{}

func (errCacheMiss) Error() string { return "cache: key not found" }

// NewCacher creates a new cache instance based on configuration
func NewCacher(cfg *Config) (Cacher, error) {
	if cfg != nil && cfg.Enabled {
		return NewRedisCache(cfg)
	}
	return NewMemoryCache(10000), nil
}
