package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, opts Options) (*RedisTokenBucket, *miniredis.Miniredis, *time.Time) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewRedisTokenBucket(client, opts)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	return limiter, mr, &now
}

func TestRedisTokenBucket(t *testing.T) {
	ctx := context.Background()
	limiter, mr, now := newTestBucket(t, Options{Capacity: 2, Window: time.Minute})
	client := Subject{Client: "203.0.113.7"}

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, client)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should pass", i)
		}
	}

	decision, err := limiter.Allow(ctx, client)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("third request should be limited")
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("retry after = %v", decision.RetryAfter)
	}

	other, err := limiter.Allow(ctx, Subject{Client: "198.51.100.1"})
	if err != nil || !other.Allowed {
		t.Fatalf("other subject = %+v, %v", other, err)
	}

	*now = now.Add(time.Minute)
	decision, err = limiter.Allow(ctx, client)
	if err != nil || !decision.Allowed {
		t.Fatalf("after refill = %+v, %v", decision, err)
	}

	if !mr.Exists("pixelproxy:ratelimit:client:203.0.113.7") {
		t.Fatal("expected bucket under default prefix")
	}
}

func TestRedisTokenBucketSharesHostBudget(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := newTestBucket(t, Options{Capacity: 5, HostCapacity: 2, Window: time.Minute})

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		decision, err := limiter.Allow(ctx, Subject{Client: ip, Host: "Images.Example.com"})
		if err != nil || !decision.Allowed {
			t.Fatalf("client %s = %+v, %v", ip, decision, err)
		}
	}

	third := Subject{Client: "203.0.113.3", Host: "images.example.com"}
	decision, err := limiter.Allow(ctx, third)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("host budget should be exhausted across clients")
	}

	// The rejection must not have cost the client anything.
	decision, err = limiter.Allow(ctx, Subject{Client: third.Client, Host: "cdn.example.net"})
	if err != nil || !decision.Allowed {
		t.Fatalf("other host = %+v, %v", decision, err)
	}
	if decision.Remaining != 4 {
		t.Fatalf("remaining = %d, want 4", decision.Remaining)
	}

	if !mr.Exists("pixelproxy:ratelimit:host:images.example.com") {
		t.Fatal("expected host bucket keyed by lowercased host")
	}
}

func TestRedisTokenBucketIgnoresHostWhenDisabled(t *testing.T) {
	ctx := context.Background()
	limiter, mr, _ := newTestBucket(t, Options{Capacity: 1, Window: time.Minute})

	decision, err := limiter.Allow(ctx, Subject{Client: "203.0.113.1", Host: "images.example.com"})
	if err != nil || !decision.Allowed {
		t.Fatalf("allow = %+v, %v", decision, err)
	}
	if mr.Exists("pixelproxy:ratelimit:host:images.example.com") {
		t.Fatal("host bucket written with zero host capacity")
	}
}

func TestRedisTokenBucketChargeLeavesDebt(t *testing.T) {
	ctx := context.Background()
	limiter, _, now := newTestBucket(t, Options{Capacity: 4, Window: time.Minute})
	client := Subject{Client: "203.0.113.7"}

	if decision, err := limiter.Allow(ctx, client); err != nil || !decision.Allowed {
		t.Fatalf("first = %+v, %v", decision, err)
	}
	// Three tokens left; a transcode costing five more drives the bucket to -2.
	if err := limiter.Charge(ctx, client, 5); err != nil {
		t.Fatalf("charge: %v", err)
	}

	decision, err := limiter.Allow(ctx, client)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("request after an expensive charge should wait")
	}
	if decision.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", decision.Remaining)
	}
	// Three tokens at four per minute.
	if decision.RetryAfter < 44*time.Second || decision.RetryAfter > 46*time.Second {
		t.Fatalf("retry after = %v, want about 45s", decision.RetryAfter)
	}

	*now = now.Add(2 * time.Minute)
	decision, err = limiter.Allow(ctx, client)
	if err != nil || !decision.Allowed {
		t.Fatalf("after refill = %+v, %v", decision, err)
	}
	if decision.Remaining != 3 {
		t.Fatalf("remaining after refill = %d, want 3", decision.Remaining)
	}

	if err := limiter.Charge(ctx, client, 0); err != nil {
		t.Fatalf("zero charge: %v", err)
	}
}

func TestNewRedisTokenBucketValidates(t *testing.T) {
	if _, err := NewRedisTokenBucket(nil, Options{Capacity: 1, Window: time.Second}); err == nil {
		t.Fatal("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewRedisTokenBucket(client, Options{Window: time.Second}); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewRedisTokenBucket(client, Options{Capacity: 1}); err == nil {
		t.Fatal("expected error for zero window")
	}
	if _, err := NewRedisTokenBucket(client, Options{Capacity: 1, HostCapacity: -1, Window: time.Second}); err == nil {
		t.Fatal("expected error for negative host capacity")
	}
}
