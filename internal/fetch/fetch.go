// Package fetch downloads upstream images for the proxy and the prewarm
// worker.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrTooLarge = errors.New("upstream body exceeds size limit")

// StatusError is a non-2xx upstream response. Status is already clamped
// into 400..599 so it can be relayed to the client as is.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Upstream server returned %d", e.Status)
}

// SanitizeStatus forces an upstream status into the client error range.
func SanitizeStatus(code int) int {
	return min(max(code, 400), 599)
}

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
	tracer   trace.Tracer
}

func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}

	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		tracer:   otel.Tracer("pixelproxy/fetch"),
	}
}

// Get downloads target and returns its body.
func (f *Fetcher) Get(ctx context.Context, target string) ([]byte, error) {
	ctx, span := f.tracer.Start(ctx, "fetch.upstream", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("http.url", target))
	defer span.End()

	data, err := f.get(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response_content_length", len(data)))
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "image/webp,image/png,image/jpeg,image/svg+xml,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Status: SanitizeStatus(resp.StatusCode)}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
