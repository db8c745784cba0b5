package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/fetch"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/render"
	"github.com/dunamismax/pixelproxy/internal/urlcodec"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// handleImage serves GET /{base64 url}?w=&h=&q=&f=.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, err := decodeTarget(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}
	if !s.allow.Allows(target.Hostname()) {
		http.Error(w, "Domain not allowed", http.StatusForbidden)
		return
	}

	params := ParseVariant(r.URL.Query()).Params()
	key := cache.Key(target.String(), params.Canonical())

	if entry, ok := s.lookup(ctx, key); ok {
		writeEntry(w, entry)
		return
	}

	data, err := s.upstream.Get(ctx, target.String())
	if err != nil {
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) {
			http.Error(w, statusErr.Error(), statusErr.Status)
			return
		}
		s.logger.Warn("upstream fetch failed", zap.String("target", target.String()), zap.Error(err))
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}

	out, err := s.render(ctx, data, params)
	s.metrics.transforms.WithLabelValues(out.Source.String(), out.Target.String(), out.Outcome).Inc()
	if err != nil {
		if errors.Is(err, pipeline.ErrUnrecognizedFormat) {
			http.Error(w, "Invalid image format", http.StatusBadRequest)
			return
		}
		s.logger.Warn("transform failed", zap.String("target", target.String()), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if out.Outcome == render.OutcomeTranscoded {
		s.chargeTranscode(ctx)
	}
	writeEntry(w, out.Entry)
	s.store(ctx, key, out.Entry)
}

func (s *Server) render(ctx context.Context, data []byte, params pipeline.Params) (render.Output, error) {
	_, span := s.tracer.Start(ctx, "pipeline.transform")
	defer span.End()

	out, err := render.Render(s.transformer, data, params)
	span.SetAttributes(
		attribute.String("image.source_format", out.Source.String()),
		attribute.String("image.target_format", out.Target.String()),
		attribute.String("image.outcome", out.Outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
	}
	return out, err
}

func (s *Server) lookup(ctx context.Context, key string) (cache.Entry, bool) {
	entry, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.metrics.cacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return cache.Entry{}, false
	case ok:
		s.metrics.cacheLookups.WithLabelValues("hit").Inc()
		return entry, true
	default:
		s.metrics.cacheLookups.WithLabelValues("miss").Inc()
		return cache.Entry{}, false
	}
}

// store writes entry in the background so the response is not delayed. The
// write outlives the request context.
func (s *Server) store(ctx context.Context, key string, entry cache.Entry) {
	ctx = context.WithoutCancel(ctx)
	s.cacheWrites.Add(1)
	go func() {
		defer s.cacheWrites.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		defer cancel()
		if err := s.cache.Set(ctx, key, entry); err != nil {
			s.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func writeEntry(w http.ResponseWriter, entry cache.Entry) {
	h := w.Header()
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	if entry.CacheControl != "" {
		h.Set("Cache-Control", entry.CacheControl)
	}
	h.Set("Content-Length", strconv.Itoa(len(entry.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Data)
}

func decodeTarget(encoded string) (*url.URL, error) {
	raw, err := urlcodec.DecodeNonStrict(encoded)
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, errors.New("target must be an absolute http(s) URL")
	}
	return target, nil
}

// ParseVariant reads w, h, q and f from a request query. Unparseable values
// are treated as absent.
func ParseVariant(query url.Values) domain.Variant {
	var v domain.Variant
	if n, err := strconv.Atoi(query.Get("w")); err == nil && n > 0 {
		v.Width = n
	}
	if n, err := strconv.Atoi(query.Get("h")); err == nil && n > 0 {
		v.Height = n
	}
	if q, err := strconv.Atoi(query.Get("q")); err == nil && q >= 0 {
		v.Quality = &q
	}
	v.Format = strings.ToLower(strings.TrimSpace(query.Get("f")))
	return v
}
