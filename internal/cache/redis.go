package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quantbt/internal/logger"
)

// RedisCache represents Redis cache implementation
type RedisCache struct {
	client *redis.Client
}

// Config represents cache configuration
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(cfg *Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisCache{client: client}, nil
}

// Get retrieves a value from cache and unmarshals it into dest
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Set sets a value in cache with expiration
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

// Delete deletes a key from cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Exists checks if a key exists
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.client.Exists(ctx, key).Result()
	return result > 0, err
}

// SetBars sets a daily bar series in cache
func (r *RedisCache) SetBars(ctx context.Context, symbol string, bars interface{}, expiration time.Duration) error {
	return r.Set(ctx, fmt.Sprintf("bars:%s", symbol), bars, expiration)
}

// GetBars gets a daily bar series from cache
func (r *RedisCache) GetBars(ctx context.Context, symbol string, dest interface{}) error {
	return r.Get(ctx, fmt.Sprintf("bars:%s", symbol), dest)
}

// SetResult sets a backtest result in cache
func (r *RedisCache) SetResult(ctx context.Context, runID string, result interface{}, expiration time.Duration) error {
	return r.Set(ctx, fmt.Sprintf("result:%s", runID), result, expiration)
}

// GetResult gets a backtest result from cache
func (r *RedisCache) GetResult(ctx context.Context, runID string, dest interface{}) error {
	return r.Get(ctx, fmt.Sprintf("result:%s", runID), dest)
}

// DeleteResult removes a cached backtest result
func (r *RedisCache) DeleteResult(ctx context.Context, runID string) error {
	return r.Delete(ctx, fmt.Sprintf("result:%s", runID))
}

// AcquireLock acquires a named lock with expiration
func (r *RedisCache) AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, fmt.Sprintf("lock:%s", name), 1, expiration).Result()
}

// ReleaseLock releases a named lock
func (r *RedisCache) ReleaseLock(ctx context.Context, name string) error {
	return r.client.Del(ctx, fmt.Sprintf("lock:%s", name)).Err()
}

// HealthCheck performs a health check on Redis
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
