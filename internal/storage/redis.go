package storage

import (
	"context"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/redis"
)

// RedisCache adapts the Redis client to the Cache contract.
type RedisCache struct {
	client *pkgredis.Client
}

func NewRedisCache(client *pkgredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key)
	if pkgredis.IsNilError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl)
}

func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl)
}

func (c *RedisCache) Replace(ctx context.Context, key string, value []byte) (bool, error) {
	return c.client.SetKeepTTL(ctx, key, value)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...)
}

func (c *RedisCache) ScanByPattern(ctx context.Context, pattern string) ([]string, error) {
	return c.client.ScanKeys(ctx, pattern)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
