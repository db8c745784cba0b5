// Package cache stores transformed responses keyed by target URL and
// transformation variant.
package cache

import (
	"context"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Entry is a cached response body with the headers needed to replay it.
type Entry struct {
	Data         []byte
	ContentType  string
	CacheControl string
}

type Cache interface {
	// Get reports a miss as ok=false with a nil error.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// Key hashes the upstream URL and the canonical transformation parameters.
// The proxy and the prewarm worker must derive identical keys.
func Key(target, variant string) string {
	h := xxhash.New()
	_, _ = h.WriteString(target)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(variant)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
func (Nop) Set(context.Context, string, Entry) error         { return nil }
