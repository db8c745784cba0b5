package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelproxy/internal/storage"
)

type objectStore interface {
	ReadObject(ctx context.Context, objectKey string) (storage.Object, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStoreCache keeps entries in an S3 compatible bucket. Expiry is left
// to the bucket's lifecycle rules.
type ObjectStoreCache struct {
	store        objectStore
	prefix       string
	cacheControl string
}

func NewObjectStoreCache(store objectStore, cacheControl string) *ObjectStoreCache {
	return &ObjectStoreCache{
		store:        store,
		prefix:       "cache/",
		cacheControl: cacheControl,
	}
}

func (c *ObjectStoreCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	obj, err := c.store.ReadObject(ctx, c.prefix+key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache read: %w", err)
	}
	return Entry{
		Data:         obj.Data,
		ContentType:  obj.ContentType,
		CacheControl: c.cacheControl,
	}, true, nil
}

func (c *ObjectStoreCache) Set(ctx context.Context, key string, entry Entry) error {
	if err := c.store.WriteObject(ctx, c.prefix+key, entry.Data, entry.ContentType); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
