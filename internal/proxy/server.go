package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/pixelproxy/internal/allowlist"
	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/queue"
	"github.com/dunamismax/pixelproxy/internal/ratelimit"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type upstream interface {
	Get(ctx context.Context, target string) ([]byte, error)
}

type prewarmEnqueuer interface {
	EnqueuePrewarm(ctx context.Context, payload queue.PrewarmPayload) (*asynq.TaskInfo, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, subject ratelimit.Subject) (ratelimit.Decision, error)
	Charge(ctx context.Context, subject ratelimit.Subject, tokens int) error
}

// Deps are the collaborators of a Server. Cache, Queue, Jobs and
// RateLimiter are optional. TranscodeCost is the number of rate limit tokens
// a transcoded response costs; cache hits and unchanged sources cost one.
type Deps struct {
	Logger        *zap.Logger
	Transformer   *pipeline.Transformer
	Upstream      upstream
	Cache         cache.Cache
	Allow         allowlist.List
	Jobs          store.JobStore
	Queue         prewarmEnqueuer
	RateLimiter   RateLimiter
	TranscodeCost int
}

type Server struct {
	logger      *zap.Logger
	transformer *pipeline.Transformer
	upstream    upstream
	cache       cache.Cache
	allow       allowlist.List
	jobs        store.JobStore
	queue       prewarmEnqueuer
	rateLimiter RateLimiter
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux

	transcodeCost int
	cacheWrites   sync.WaitGroup
	cacheTimeout  time.Duration
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Transformer == nil {
		deps.Transformer = pipeline.NewTransformer()
	}

	s := &Server{
		logger:        deps.Logger,
		transformer:   deps.Transformer,
		upstream:      deps.Upstream,
		cache:         deps.Cache,
		allow:         deps.Allow,
		jobs:          deps.Jobs,
		queue:         deps.Queue,
		rateLimiter:   deps.RateLimiter,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelproxy/proxy"),
		mux:           http.NewServeMux(),
		transcodeCost: deps.TranscodeCost,
		cacheTimeout:  10 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(http.HandlerFunc(s.dispatch))))
}

// Wait blocks until detached cache writes have finished.
func (s *Server) Wait() {
	s.cacheWrites.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/prewarm", s.handleCreatePrewarm)
	s.mux.HandleFunc("GET /v1/prewarm/{id}", s.handleGetPrewarm)
}

// dispatch sends image requests around the ServeMux, which would otherwise
// clean "//" out of standard base64 paths and redirect.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		s.mux.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleImage(w, r)
}

func isAPIPath(path string) bool {
	return path == "/healthz" || path == "/metrics" || path == "/v1/prewarm" || strings.HasPrefix(path, "/v1/prewarm/")
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"webp_engine": s.transformer.Engine(),
	})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
