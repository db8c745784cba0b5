package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/config"
	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/fetch"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/queue"
	"github.com/dunamismax/pixelproxy/internal/render"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/dunamismax/pixelproxy/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type upstream interface {
	Get(ctx context.Context, target string) ([]byte, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators of the prewarm handler. Jobs and Webhooks are
// optional.
type Deps struct {
	Transformer *pipeline.Transformer
	Upstream    upstream
	Cache       cache.Cache
	Jobs        store.JobStore
	Webhooks    webhookSender
}

type Server struct {
	logger      *zap.Logger
	server      *asynq.Server
	transformer *pipeline.Transformer
	upstream    upstream
	cache       cache.Cache
	jobs        store.JobStore
	webhooks    webhookSender
	metrics     *metrics
	tracer      trace.Tracer
}

func NewServer(logger *zap.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Upstream == nil {
		return nil, errors.New("upstream fetcher is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if deps.Transformer == nil {
		deps.Transformer = pipeline.NewTransformer()
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		transformer: deps.Transformer,
		upstream:    deps.Upstream,
		cache:       deps.Cache,
		jobs:        deps.Jobs,
		webhooks:    deps.Webhooks,
		metrics:     newMetrics(),
		tracer:      otel.Tracer("pixelproxy/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypePrewarmImage, s.handlePrewarm)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handlePrewarm(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParsePrewarmPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.prewarm", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.url", payload.URL),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeJobs.Inc()
	defer s.metrics.activeJobs.Dec()

	logger := s.logger.With(zap.String("job_id", payload.JobID))
	logger.Info("prewarm started", zap.String("url", payload.URL))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing, "")

	out, err := s.prewarm(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prewarm failed")
		if !isPermanent(err) && !isFinalAttempt(ctx) {
			// Leave the job in processing; asynq will retry.
			return fmt.Errorf("prewarm: %w", err)
		}

		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed, err.Error())
		s.dispatchWebhook(ctx, payload, webhook.EventPrewarmFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"url":          payload.URL,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if isPermanent(err) {
			return fmt.Errorf("prewarm: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("prewarm: %w", err)
	}

	logger.Info("prewarm cached",
		zap.String("cache_key", payload.CacheKey),
		zap.String("outcome", out.Outcome),
		zap.Int("bytes", len(out.Entry.Data)),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	outcome = domain.JobStatusSucceeded
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded, "")
	s.dispatchWebhook(ctx, payload, webhook.EventPrewarmCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"url":          payload.URL,
		"cache_key":    payload.CacheKey,
		"content_type": out.Entry.ContentType,
		"bytes":        len(out.Entry.Data),
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	})
	span.SetStatus(codes.Ok, "cached")
	return nil
}

func (s *Server) prewarm(ctx context.Context, payload queue.PrewarmPayload) (render.Output, error) {
	data, err := s.upstream.Get(ctx, payload.URL)
	if err != nil {
		return render.Output{}, fmt.Errorf("fetch: %w", err)
	}

	out, err := render.Render(s.transformer, data, payload.Variant.Params())
	s.metrics.transforms.WithLabelValues(out.Source.String(), out.Target.String(), out.Outcome).Inc()
	if err != nil {
		return out, fmt.Errorf("render: %w", err)
	}

	if err := s.cache.Set(ctx, payload.CacheKey, out.Entry); err != nil {
		return out, fmt.Errorf("cache: %w", err)
	}
	s.metrics.bytesCached.Add(float64(len(out.Entry.Data)))
	return out, nil
}

// isPermanent reports failures a retry cannot fix: upstream client errors
// and undecodable or unconvertible images.
func isPermanent(err error) bool {
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status < 500
	}
	var decodeErr *pipeline.DecodeError
	return errors.Is(err, pipeline.ErrUnrecognizedFormat) ||
		errors.Is(err, pipeline.ErrUnsupportedTargetFormat) ||
		errors.Is(err, fetch.ErrTooLarge) ||
		errors.As(err, &decodeErr)
}

func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status, detail string) {
	if s.jobs == nil {
		return
	}
	if _, err := s.jobs.UpdateStatus(ctx, jobID, status, detail); err != nil {
		s.logger.Warn("job status update failed", zap.String("job_id", jobID), zap.String("status", status), zap.Error(err))
	}
}

// Webhook failures are logged and never change the job outcome.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.PrewarmPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhooks == nil {
		return
	}
	if err := s.webhooks.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookErrors.Inc()
		s.logger.Warn("webhook delivery failed", zap.String("job_id", payload.JobID), zap.String("event", event), zap.Error(err))
	}
}
