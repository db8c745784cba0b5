package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PIXELPROXY_ADDR",
		"PIXELPROXY_DOMAIN_WHITELIST",
		"PIXELPROXY_CACHE_BACKEND",
		"PIXELPROXY_CACHE_TTL",
		"PIXELPROXY_RATE_LIMIT",
		"PIXELPROXY_RATE_LIMIT_HOST",
		"PIXELPROXY_TRANSCODE_COST",
		"POSTGRES_DSN",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Proxy.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Proxy.Addr)
	}
	if cfg.Proxy.DomainWhitelist != "*" {
		t.Fatalf("whitelist = %q", cfg.Proxy.DomainWhitelist)
	}
	if cfg.Cache.Backend != CacheBackendRedis {
		t.Fatalf("cache backend = %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != 8760*time.Hour {
		t.Fatalf("cache ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Proxy.RateLimit != 120 {
		t.Fatalf("rate limit = %d", cfg.Proxy.RateLimit)
	}
	if cfg.Proxy.RateHostLimit != 0 || cfg.Proxy.TranscodeCost != 4 {
		t.Fatalf("host limit = %d, transcode cost = %d", cfg.Proxy.RateHostLimit, cfg.Proxy.TranscodeCost)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIXELPROXY_CACHE_BACKEND", "Object")
	t.Setenv("PIXELPROXY_FETCH_TIMEOUT", "3s")
	t.Setenv("PIXELPROXY_MAX_SOURCE_BYTES", "1024")
	t.Setenv("PIXELPROXY_RATE_WINDOW", "not-a-duration")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("PIXELPROXY_RATE_LIMIT_HOST", "600")

	cfg := Load()
	if cfg.Cache.Backend != CacheBackendObject {
		t.Fatalf("cache backend = %q", cfg.Cache.Backend)
	}
	if cfg.Proxy.FetchTimeout != 3*time.Second {
		t.Fatalf("fetch timeout = %v", cfg.Proxy.FetchTimeout)
	}
	if cfg.Proxy.MaxSourceBytes != 1024 {
		t.Fatalf("max source bytes = %d", cfg.Proxy.MaxSourceBytes)
	}
	if cfg.Proxy.RateWindow != time.Minute {
		t.Fatalf("invalid duration should fall back, got %v", cfg.Proxy.RateWindow)
	}
	if cfg.Proxy.RateHostLimit != 600 {
		t.Fatalf("host limit = %d", cfg.Proxy.RateHostLimit)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected ssl enabled")
	}
}
