package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/pixelproxy/internal/bootstrap"
	"github.com/dunamismax/pixelproxy/internal/config"
	"github.com/dunamismax/pixelproxy/internal/fetch"
	"github.com/dunamismax/pixelproxy/internal/logging"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/dunamismax/pixelproxy/internal/telemetry"
	"github.com/dunamismax/pixelproxy/internal/webhook"
	"github.com/dunamismax/pixelproxy/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New("worker", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelproxy-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	redisClient := redis.NewClient(cfg.Queue.RedisOptions())
	defer func() { _ = redisClient.Close() }()

	responseCache, err := bootstrap.Cache(ctx, cfg, redisClient)
	if err != nil {
		logger.Fatal("cache setup failed", zap.Error(err))
	}

	// An in-memory store would not be shared with the proxy, so status
	// tracking needs Postgres.
	var jobs store.JobStore
	if cfg.Database.DSN != "" {
		pg, closeStore, err := bootstrap.JobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal("job store setup failed", zap.Error(err))
		}
		defer closeStore()
		jobs = pg
	}

	transformer := pipeline.NewTransformer()
	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Deps{
		Transformer: transformer,
		Upstream:    fetch.New(fetch.Config{Timeout: cfg.Proxy.FetchTimeout, MaxBytes: cfg.Proxy.MaxSourceBytes}),
		Cache:       responseCache,
		Jobs:        jobs,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			MaxAttempts:    4,
			InitialBackoff: time.Second,
			MaxBackoff:     15 * time.Second,
		}),
	})
	if err != nil {
		logger.Fatal("worker setup failed", zap.Error(err))
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("webp_engine", transformer.Engine()),
	)
	if err := srv.Run(); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}
