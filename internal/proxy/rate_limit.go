package proxy

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelproxy/internal/ratelimit"
	"go.uber.org/zap"
)

type subjectKey struct{}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := ratelimit.Subject{Client: clientIP(r) + ":" + route}
		if route == "/{image}" {
			// Undecodable targets are rejected downstream; they only cost
			// the client.
			if target, err := decodeTarget(strings.TrimPrefix(r.URL.Path, "/")); err == nil {
				subject.Host = target.Hostname()
			}
		}

		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Warn("rate limiter check failed", zap.String("client", subject.Client), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
			return
		}

		retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
	})
}

// chargeTranscode bills the admitted subject for a transcode on top of the
// token taken at admission.
func (s *Server) chargeTranscode(ctx context.Context) {
	if s.rateLimiter == nil || s.transcodeCost <= 1 {
		return
	}
	subject, ok := ctx.Value(subjectKey{}).(ratelimit.Subject)
	if !ok {
		return
	}
	if err := s.rateLimiter.Charge(ctx, subject, s.transcodeCost-1); err != nil {
		s.logger.Warn("rate limiter charge failed", zap.String("client", subject.Client), zap.Error(err))
	}
}

func shouldRateLimit(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	}
	return !(r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/prewarm/"))
}

// clientIP prefers the first X-Forwarded-For hop set by a fronting proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
