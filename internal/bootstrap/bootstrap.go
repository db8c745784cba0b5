// Package bootstrap builds the backing services shared by the proxy and
// worker binaries from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/config"
	"github.com/dunamismax/pixelproxy/internal/render"
	"github.com/dunamismax/pixelproxy/internal/storage"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/redis/go-redis/v9"
)

// Cache returns the response cache selected by cfg.Cache.Backend.
func Cache(ctx context.Context, cfg config.Config, redisClient redis.UniversalClient) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		return cache.NewRedisCache(redisClient, cfg.Cache.TTL), nil
	case config.CacheBackendObject:
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return cache.NewObjectStoreCache(client, render.CacheControl), nil
	case config.CacheBackendNone:
		return cache.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// JobStore returns a Postgres store when dsn is set and an in-memory store
// otherwise. The returned close function is never nil.
func JobStore(ctx context.Context, dsn string) (store.JobStore, func(), error) {
	if dsn == "" {
		return store.NewMemoryJobStore(), func() {}, nil
	}
	pg, err := store.NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}
