package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldData         = "data"
	fieldContentType  = "content_type"
	fieldCacheControl = "cache_control"
)

type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "pixelproxy:cache:",
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	values, err := c.client.HGetAll(ctx, c.prefix+key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	data, ok := values[fieldData]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{
		Data:         []byte(data),
		ContentType:  values[fieldContentType],
		CacheControl: values[fieldCacheControl],
	}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	redisKey := c.prefix + key
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey,
			fieldData, entry.Data,
			fieldContentType, entry.ContentType,
			fieldCacheControl, entry.CacheControl,
		)
		if c.ttl > 0 {
			pipe.Expire(ctx, redisKey, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
