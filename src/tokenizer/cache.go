package tokenizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// Cache stores counts keyed by model and text.
type Cache interface {
	Get(ctx context.Context, key string) (TokenCount, bool, error)
	Set(ctx context.Context, key string, count TokenCount) error
}

// CacheKey derives the cache key of a (model, text) pair.
func CacheKey(modelID, text string) string {
	return fmt.Sprintf("ppm:tokens:%016x:%016x", xxhash.Sum64String(modelID), xxhash.Sum64String(text))
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	count   TokenCount
	expires time.Time
}

// NewMemoryCache returns a cache keeping at most max entries for ttl each.
// A zero ttl keeps entries until evicted.
func NewMemoryCache(ttl time.Duration, max int) *MemoryCache {
	if max <= 0 {
		max = 1024
	}
	return &MemoryCache{
		ttl:     ttl,
		max:     max,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (TokenCount, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return TokenCount{}, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return TokenCount{}, false, nil
	}
	return e.count, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, count TokenCount) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evict()
	}
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.entries[key] = memoryEntry{count: count, expires: expires}
	return nil
}

// evict drops expired entries, or the one expiring first when none are.
func (c *MemoryCache) evict() {
	now := c.now()
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares counts between processes through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis server at url
// (e.g. "redis://localhost:6379/0").
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCacheFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (TokenCount, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return TokenCount{}, false, nil
	}
	if err != nil {
		return TokenCount{}, false, fmt.Errorf("redis get: %w", err)
	}

	var count TokenCount
	if err := json.Unmarshal(raw, &count); err != nil {
		return TokenCount{}, false, fmt.Errorf("decode cached count: %w", err)
	}
	return count, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, count TokenCount) error {
	raw, err := json.Marshal(count)
	if err != nil {
		return fmt.Errorf("encode count: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
