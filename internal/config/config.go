package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendObject = "object"
	CacheBackendNone   = "none"
)

type Config struct {
	Proxy     ProxyConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	LogLevel  string
}

type ProxyConfig struct {
	Addr            string
	DomainWhitelist string
	MaxSourceBytes  int64
	FetchTimeout    time.Duration
	RateLimit       int
	RateHostLimit   int
	RateWindow      time.Duration
	TranscodeCost   int
}

type CacheConfig struct {
	Backend string
	TTL     time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions configures the go-redis client used for caching and rate
// limiting. It shares the queue's Redis.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	// DSN is optional; without it prewarm jobs live in memory.
	DSN string
}

type WebhookConfig struct {
	SigningSecret string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads the environment, seeded from a .env file in the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Proxy: ProxyConfig{
			Addr:            env("PIXELPROXY_ADDR", ":8080"),
			DomainWhitelist: env("PIXELPROXY_DOMAIN_WHITELIST", "*"),
			MaxSourceBytes:  int64(envInt("PIXELPROXY_MAX_SOURCE_BYTES", 32<<20)),
			FetchTimeout:    envDuration("PIXELPROXY_FETCH_TIMEOUT", 15*time.Second),
			RateLimit:       envInt("PIXELPROXY_RATE_LIMIT", 120),
			RateHostLimit:   envInt("PIXELPROXY_RATE_LIMIT_HOST", 0),
			RateWindow:      envDuration("PIXELPROXY_RATE_WINDOW", time.Minute),
			TranscodeCost:   envInt("PIXELPROXY_TRANSCODE_COST", 4),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(env("PIXELPROXY_CACHE_BACKEND", CacheBackendRedis)),
			TTL:     envDuration("PIXELPROXY_CACHE_TTL", 365*24*time.Hour),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "pixelproxy-cache"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		LogLevel: env("PIXELPROXY_LOG_LEVEL", "info"),
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
