package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// SearchCache memoizes similarity-search results under
// search_cache:{sha256(params)}. Params are hashed as JSON, and encoding/json
// writes map keys in sorted order, so logically equal parameter sets always
// hash the same.
type SearchCache struct {
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewSearchCache(cache Cache, ttl time.Duration) *SearchCache {
	return &SearchCache{
		cache:  cache,
		ttl:    ttl,
		logger: slog.Default().With("component", "search-cache"),
	}
}

// SearchKey returns the cache key for a parameter set.
func SearchKey(params map[string]any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding search params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return SearchCachePrefix + hex.EncodeToString(sum[:]), nil
}

// Get decodes a cached result into dest. Cache failures are logged and
// reported as misses.
func (c *SearchCache) Get(ctx context.Context, params map[string]any, dest any) bool {
	key, err := SearchKey(params)
	if err != nil {
		c.logger.Error("building cache key failed", "error", err)
		return false
	}
	data, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if err != nil || !found {
		c.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	return true
}

func (c *SearchCache) Set(ctx context.Context, params map[string]any, value any) {
	key, err := SearchKey(params)
	if err != nil {
		c.logger.Error("building cache key failed", "error", err)
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.cache.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached search result.
func (c *SearchCache) Invalidate(ctx context.Context) (int, error) {
	keys, err := c.cache.ScanByPattern(ctx, SearchCachePrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating search cache: %w", err)
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("invalidating search cache: %w", err)
	}
	c.logger.Info("search cache invalidated", "keys_deleted", len(keys))
	return len(keys), nil
}

func (c *SearchCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// GetOrCompute returns the cached result for params or computes and caches
// it. Concurrent misses for the same params share one computation. The
// boolean reports a cache hit.
func GetOrCompute[T any](ctx context.Context, c *SearchCache, params map[string]any, compute func(context.Context) (T, error)) (T, bool, error) {
	var cached T
	if c.Get(ctx, params, &cached) {
		return cached, true, nil
	}
	key, err := SearchKey(params)
	if err != nil {
		return cached, false, err
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		var again T
		if c.Get(ctx, params, &again) {
			return again, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, params, result)
		return result, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}
