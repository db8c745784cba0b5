// Package ratelimit meters proxy traffic with Redis token buckets. A request
// is admitted against the bucket of its client and, for image requests, a
// bucket shared by every client of the same upstream host. Transcodes cost
// more than cache hits, so their extra cost is charged once it is known.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Subject identifies the caller of a request and the upstream host it
// reaches. Host is empty for requests that never fetch.
type Subject struct {
	Client string
	Host   string
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Options struct {
	// Capacity is the number of tokens a client earns per Window.
	Capacity int
	// HostCapacity bounds requests per Window to one upstream host across
	// all clients. Zero disables the host bucket.
	HostCapacity int
	Window       time.Duration
	KeyPrefix    string
}

type bucket struct {
	capacity    int64
	refillPerMS float64
}

type RedisTokenBucket struct {
	client    redis.UniversalClient
	perClient bucket
	perHost   bucket
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
	script    *redis.Script
}

// The script refills every bucket in KEYS, then takes ARGV[2] tokens from
// all of them or from none. With force set the tokens are taken regardless,
// leaving at most one capacity of debt that later requests wait off.
var takeScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local requested = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])
local force = tonumber(ARGV[4]) == 1

local tokens = {}
local allowed = 1
local retry_after_ms = 0
for i, key in ipairs(KEYS) do
  local capacity = tonumber(ARGV[3 + i * 2])
  local refill_per_ms = tonumber(ARGV[4 + i * 2])

  local data = redis.call("HMGET", key, "tokens", "timestamp")
  local current = tonumber(data[1]) or capacity
  local timestamp = tonumber(data[2]) or now_ms

  local elapsed = math.max(0, now_ms - timestamp)
  current = math.min(capacity, current + (elapsed * refill_per_ms))
  tokens[i] = current

  if current < requested then
    allowed = 0
    retry_after_ms = math.max(retry_after_ms, math.ceil((requested - current) / refill_per_ms))
  end
end

if force then
  allowed = 1
  retry_after_ms = 0
end

for i, key in ipairs(KEYS) do
  local capacity = tonumber(ARGV[3 + i * 2])
  local current = tokens[i]
  if allowed == 1 then
    current = math.max(-capacity, current - requested)
  end
  tokens[i] = current
  redis.call("HMSET", key, "tokens", current, "timestamp", now_ms)
  redis.call("PEXPIRE", key, ttl_ms)
end

return {allowed, math.floor(tokens[1]), retry_after_ms}
`)

func NewRedisTokenBucket(client redis.UniversalClient, opts Options) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if opts.HostCapacity < 0 {
		return nil, fmt.Errorf("host capacity must not be negative")
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	keyPrefix := strings.TrimSpace(opts.KeyPrefix)
	if keyPrefix == "" {
		keyPrefix = "pixelproxy:ratelimit"
	}

	windowMS := max(opts.Window.Milliseconds(), 1)
	newBucket := func(capacity int) bucket {
		return bucket{capacity: int64(capacity), refillPerMS: float64(capacity) / float64(windowMS)}
	}

	return &RedisTokenBucket{
		client:    client,
		perClient: newBucket(opts.Capacity),
		perHost:   newBucket(opts.HostCapacity),
		ttl:       2 * opts.Window,
		keyPrefix: keyPrefix,
		now:       time.Now,
		script:    takeScript,
	}, nil
}

// Allow admits one request when both the client and the host bucket hold a
// token. A rejected request consumes nothing.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject Subject) (Decision, error) {
	keys, buckets := l.clientKey(subject)
	if host := strings.ToLower(strings.TrimSpace(subject.Host)); host != "" && l.perHost.capacity > 0 {
		keys = append(keys, l.keyPrefix+":host:"+host)
		buckets = append(buckets, l.perHost)
	}
	return l.take(ctx, keys, buckets, 1, false)
}

// Charge debits tokens from the client bucket for work done after
// admission.
func (l *RedisTokenBucket) Charge(ctx context.Context, subject Subject, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	keys, buckets := l.clientKey(subject)
	_, err := l.take(ctx, keys, buckets, int64(tokens), true)
	return err
}

func (l *RedisTokenBucket) clientKey(subject Subject) ([]string, []bucket) {
	client := strings.TrimSpace(subject.Client)
	if client == "" {
		client = "anonymous"
	}
	return []string{l.keyPrefix + ":client:" + client}, []bucket{l.perClient}
}

func (l *RedisTokenBucket) take(ctx context.Context, keys []string, buckets []bucket, requested int64, force bool) (Decision, error) {
	forceArg := 0
	if force {
		forceArg = 1
	}
	args := []any{l.now().UTC().UnixMilli(), requested, l.ttl.Milliseconds(), forceArg}
	for _, b := range buckets {
		args = append(args, b.capacity, b.refillPerMS)
	}

	raw, err := l.script.Run(ctx, l.client, keys, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket response")
	}

	allowed, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse allow value: %w", err)
	}
	remaining, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse remaining value: %w", err)
	}
	retryAfterMS, err := toInt64(values[2])
	if err != nil {
		return Decision{}, fmt.Errorf("parse retry-after value: %w", err)
	}

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  max(remaining, 0),
		RetryAfter: time.Duration(retryAfterMS) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
