package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	items    map[string]*memoryItem
	mu       sync.RWMutex
	maxSize  int
	stopChan chan struct{}
	stopped  bool
}

// memoryItem represents an item in memory cache
type memoryItem struct {
	data       []byte
	expiration time.Time
	accessed   time.Time
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000 // Default max size
	}

	mc := &MemoryCache{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	// Start cleanup goroutine
	go mc.cleanupLoop()

	return mc
}

// Get retrieves a value from memory cache and unmarshals it into dest
func (mc *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	mc.mu.RLock()
	item, exists := mc.items[key]
	if !exists {
		mc.mu.RUnlock()
		return ErrCacheMiss
	}

	// Check if item has expired
	if time.Now().After(item.expiration) {
		mc.mu.RUnlock()
		go mc.deleteExpired(key)
		return ErrCacheMiss
	}

	item.accessed = time.Now()
	data := item.data
	mc.mu.RUnlock()

	return json.Unmarshal(data, dest)
}

// Set stores a value in memory cache
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Check if we need to evict items
	if len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}

	expirationTime := time.Now().Add(expiration)
	if expiration <= 0 {
		expirationTime = time.Now().Add(24 * time.Hour) // Default 24 hour expiration
	}

	mc.items[key] = &memoryItem{
		data:       data,
		expiration: expirationTime,
		accessed:   time.Now(),
	}

	return nil
}

// Delete removes a value from memory cache
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.items, key)
	return nil
}

// Exists checks if a key exists in memory cache
func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	item, exists := mc.items[key]
	if !exists {
		return false, nil
	}

	// Check if item has expired
	if time.Now().After(item.expiration) {
		go mc.deleteExpired(key)
		return false, nil
	}

	return true, nil
}

// SetBars sets a daily bar series in cache
func (mc *MemoryCache) SetBars(ctx context.Context, symbol string, bars interface{}, expiration time.Duration) error {
	return mc.Set(ctx, fmt.Sprintf("bars:%s", symbol), bars, expiration)
}

// GetBars gets a daily bar series from cache
func (mc *MemoryCache) GetBars(ctx context.Context, symbol string, dest interface{}) error {
	return mc.Get(ctx, fmt.Sprintf("bars:%s", symbol), dest)
}

// SetResult sets a backtest result in cache
func (mc *MemoryCache) SetResult(ctx context.Context, runID string, result interface{}, expiration time.Duration) error {
	return mc.Set(ctx, fmt.Sprintf("result:%s", runID), result, expiration)
}

// GetResult gets a backtest result from cache
func (mc *MemoryCache) GetResult(ctx context.Context, runID string, dest interface{}) error {
	return mc.Get(ctx, fmt.Sprintf("result:%s", runID), dest)
}

// DeleteResult removes a cached backtest result
func (mc *MemoryCache) DeleteResult(ctx context.Context, runID string) error {
	return mc.Delete(ctx, fmt.Sprintf("result:%s", runID))
}

// AcquireLock acquires a named lock with expiration
func (mc *MemoryCache) AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", name)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if item, exists := mc.items[key]; exists && time.Now().Before(item.expiration) {
		return false, nil
	}

	mc.items[key] = &memoryItem{
		data:       []byte("1"),
		expiration: time.Now().Add(expiration),
		accessed:   time.Now(),
	}
	return true, nil
}

// ReleaseLock releases a named lock
func (mc *MemoryCache) ReleaseLock(ctx context.Context, name string) error {
	return mc.Delete(ctx, fmt.Sprintf("lock:%s", name))
}

// Size returns the current number of items in the cache
func (mc *MemoryCache) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return len(mc.items)
}

// evictLRU evicts the least recently used item
func (mc *MemoryCache) evictLRU() {
	if len(mc.items) == 0 {
		return
	}

	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, item := range mc.items {
		if first || item.accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.accessed
			first = false
		}
	}

	if oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}

// deleteExpired removes an expired key (called asynchronously)
func (mc *MemoryCache) deleteExpired(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	// Double-check that the item is still expired
	if item, exists := mc.items[key]; exists {
		if time.Now().After(item.expiration) {
			delete(mc.items, key)
		}
	}
}

// cleanupLoop runs periodic cleanup of expired items
func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute) // Cleanup every 5 minutes
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stopChan:
			return
		}
	}
}

// cleanup removes expired items
func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
}

// Close closes the memory cache
func (mc *MemoryCache) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.stopped {
		close(mc.stopChan)
		mc.stopped = true
	}

	return nil
}
