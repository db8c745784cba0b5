package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelproxy/internal/allowlist"
	"github.com/dunamismax/pixelproxy/internal/bootstrap"
	"github.com/dunamismax/pixelproxy/internal/config"
	"github.com/dunamismax/pixelproxy/internal/fetch"
	"github.com/dunamismax/pixelproxy/internal/logging"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/proxy"
	"github.com/dunamismax/pixelproxy/internal/queue"
	"github.com/dunamismax/pixelproxy/internal/ratelimit"
	"github.com/dunamismax/pixelproxy/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New("proxy", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelproxy-proxy",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}

	redisClient := redis.NewClient(cfg.Queue.RedisOptions())
	defer func() { _ = redisClient.Close() }()

	responseCache, err := bootstrap.Cache(ctx, cfg, redisClient)
	if err != nil {
		logger.Fatal("cache setup failed", zap.Error(err))
	}

	var limiter proxy.RateLimiter
	if cfg.Proxy.RateLimit > 0 {
		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Options{
			Capacity:     cfg.Proxy.RateLimit,
			HostCapacity: cfg.Proxy.RateHostLimit,
			Window:       cfg.Proxy.RateWindow,
		})
		if err != nil {
			logger.Fatal("rate limiter setup failed", zap.Error(err))
		}
		limiter = bucket
	}

	jobStore, closeStore, err := bootstrap.JobStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("job store setup failed", zap.Error(err))
	}
	defer closeStore()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", zap.Error(err))
		}
	}()

	transformer := pipeline.NewTransformer()
	app := proxy.NewServer(proxy.Deps{
		Logger:        logger,
		Transformer:   transformer,
		Upstream:      fetch.New(fetch.Config{Timeout: cfg.Proxy.FetchTimeout, MaxBytes: cfg.Proxy.MaxSourceBytes}),
		Cache:         responseCache,
		Allow:         allowlist.Parse(cfg.Proxy.DomainWhitelist),
		Jobs:          jobStore,
		Queue:         queueClient,
		RateLimiter:   limiter,
		TranscodeCost: cfg.Proxy.TranscodeCost,
	})

	httpServer := &http.Server{
		Addr:         cfg.Proxy.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Proxy.FetchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Proxy.Addr),
			zap.String("cache", cfg.Cache.Backend),
			zap.String("webp_engine", transformer.Engine()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	app.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
}
