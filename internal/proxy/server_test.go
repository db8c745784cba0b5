package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/dunamismax/pixelproxy/internal/allowlist"
	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/fetch"
	"github.com/dunamismax/pixelproxy/internal/queue"
	"github.com/dunamismax/pixelproxy/internal/ratelimit"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/dunamismax/pixelproxy/internal/urlcodec"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const imageURL = "https://images.example.com/cat.png"

func TestImageRequestErrors(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{responses: map[string]upstreamResponse{
		"https://images.example.com/cat.png":     {data: testPNG(t, 40, 20)},
		"https://images.example.com/missing.png": {err: &fetch.StatusError{Status: 404}},
		"https://images.example.com/moved.png":   {err: &fetch.StatusError{Status: fetch.SanitizeStatus(302)}},
		"https://images.example.com/note.txt":    {data: []byte("just some text here")},
	}}
	s := NewServer(Deps{Upstream: up, Allow: allowlist.Parse("images.example.com")})

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{name: "not base64", path: "/!!!", wantCode: 400, wantBody: "Invalid URL"},
		{name: "relative url", path: "/" + urlcodec.Encode("cat.png"), wantCode: 400, wantBody: "Invalid URL"},
		{name: "blocked host", path: "/" + urlcodec.Encode("https://evil.test/cat.png"), wantCode: 403, wantBody: "Domain not allowed"},
		{name: "upstream 404", path: "/" + urlcodec.Encode("https://images.example.com/missing.png"), wantCode: 404, wantBody: "Upstream server returned 404"},
		{name: "upstream redirect", path: "/" + urlcodec.Encode("https://images.example.com/moved.png"), wantCode: 400, wantBody: "Upstream server returned 400"},
		{name: "not an image", path: "/" + urlcodec.Encode("https://images.example.com/note.txt"), wantCode: 400, wantBody: "Invalid image format"},
		{name: "svg target", path: "/" + urlcodec.Encode(imageURL) + "?f=svg", wantCode: 500, wantBody: "unsupported target format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestImageRequestResizesAndCaches(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{responses: map[string]upstreamResponse{imageURL: {data: testPNG(t, 40, 20)}}}
	c := newMemoryCache()
	s := NewServer(Deps{Upstream: up, Cache: c, Allow: allowlist.Parse("*")})

	path := "/" + urlcodec.Encode(imageURL) + "?w=10&f=png"
	rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("content type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=31536000" {
		t.Fatalf("cache control = %q", got)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if cfg.Width != 10 || cfg.Height != 5 {
		t.Fatalf("response = %dx%d, want 10x5", cfg.Width, cfg.Height)
	}

	s.Wait()
	if c.len() != 1 {
		t.Fatalf("cache entries = %d, want 1", c.len())
	}

	again := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if again.Code != http.StatusOK || !bytes.Equal(again.Body.Bytes(), rec.Body.Bytes()) {
		t.Fatal("cached response differs")
	}
	if up.count() != 1 {
		t.Fatalf("upstream calls = %d, want 1", up.count())
	}
}

func TestImageRequestFastPathAndStandardAlphabet(t *testing.T) {
	t.Parallel()

	source := testPNG(t, 16, 16)
	up := &fakeUpstream{responses: map[string]upstreamResponse{imageURL: {data: source}}}
	s := NewServer(Deps{Upstream: up, Allow: allowlist.Parse("*.example.com")})

	path := "/" + base64.StdEncoding.EncodeToString([]byte(imageURL))
	rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), source) {
		t.Fatal("unchanged image should be served byte for byte")
	}
}

func TestImageRequestServesSVGVerbatim(t *testing.T) {
	t.Parallel()

	svg := []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"/>`)
	target := "https://images.example.com/logo.svg"
	up := &fakeUpstream{responses: map[string]upstreamResponse{target: {data: svg}}}
	s := NewServer(Deps{Upstream: up, Allow: allowlist.Parse("*")})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/"+urlcodec.Encode(target)+"?w=10&f=webp", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/svg+xml" || !bytes.Equal(rec.Body.Bytes(), svg) {
		t.Fatalf("svg response = %q %q", rec.Header().Get("Content-Type"), rec.Body.String())
	}
}

func TestImageRequestWithRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	up := &fakeUpstream{responses: map[string]upstreamResponse{imageURL: {data: testPNG(t, 30, 30)}}}
	s := NewServer(Deps{Upstream: up, Cache: cache.NewRedisCache(client, time.Hour), Allow: allowlist.Parse("*")})

	path := "/" + urlcodec.Encode(imageURL) + "?f=jpeg&q=60"
	first := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if first.Code != http.StatusOK || first.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("first = %d %q", first.Code, first.Header().Get("Content-Type"))
	}
	s.Wait()

	second := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if second.Header().Get("Content-Type") != "image/jpeg" || !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatal("redis cached response differs")
	}
	if up.count() != 1 {
		t.Fatalf("upstream calls = %d, want 1", up.count())
	}
}

func TestPrewarmLifecycle(t *testing.T) {
	t.Parallel()

	jobs := store.NewMemoryJobStore()
	q := &fakeQueue{}
	s := NewServer(Deps{Jobs: jobs, Queue: q, Allow: allowlist.Parse("images.example.com")})

	body := `{"url":"` + imageURL + `","width":10,"format":"webp","webhook_url":"https://hooks.example.com/done"}`
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/prewarm", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}

	var created struct {
		JobID    string `json:"job_id"`
		Status   string `json:"status"`
		CacheKey string `json:"cache_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != domain.JobStatusQueued || created.JobID == "" {
		t.Fatalf("created = %+v", created)
	}

	query := url.Values{"w": {"10"}, "f": {"webp"}}
	proxyKey := cache.Key(imageURL, ParseVariant(query).Params().Canonical())
	if created.CacheKey != proxyKey {
		t.Fatalf("prewarm key %q differs from proxy key %q", created.CacheKey, proxyKey)
	}
	if len(q.payloads) != 1 || q.payloads[0].JobID != created.JobID || q.payloads[0].WebhookURL == "" {
		t.Fatalf("payloads = %+v", q.payloads)
	}

	status := serve(s, httptest.NewRequest(http.MethodGet, "/v1/prewarm/"+created.JobID, nil))
	if status.Code != http.StatusOK || !strings.Contains(status.Body.String(), `"status":"queued"`) {
		t.Fatalf("status = %d body = %q", status.Code, status.Body.String())
	}

	missing := serve(s, httptest.NewRequest(http.MethodGet, "/v1/prewarm/nope", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.Code)
	}
}

func TestPrewarmRejectsBadRequests(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Jobs: store.NewMemoryJobStore(), Queue: &fakeQueue{}, Allow: allowlist.Parse("images.example.com")})

	tests := map[string]struct {
		body string
		want int
	}{
		"unknown field": {body: `{"url":"` + imageURL + `","colour":"red"}`, want: http.StatusBadRequest},
		"missing url":   {body: `{}`, want: http.StatusBadRequest},
		"svg format":    {body: `{"url":"` + imageURL + `","format":"svg"}`, want: http.StatusBadRequest},
		"blocked host":  {body: `{"url":"https://evil.test/a.png"}`, want: http.StatusForbidden},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := serve(s, httptest.NewRequest(http.MethodPost, "/v1/prewarm", strings.NewReader(tc.body)))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	unconfigured := NewServer(Deps{Allow: allowlist.Parse("*")})
	rec := serve(unconfigured, httptest.NewRequest(http.MethodPost, "/v1/prewarm", strings.NewReader(`{"url":"`+imageURL+`"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured status = %d", rec.Code)
	}
}

func TestRateLimitRejects(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	s := NewServer(Deps{RateLimiter: limiter, Allow: allowlist.Parse("*")})

	req := httptest.NewRequest(http.MethodGet, "/"+urlcodec.Encode(imageURL), nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := serve(s, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("retry after = %q", rec.Header().Get("Retry-After"))
	}
	want := ratelimit.Subject{Client: "203.0.113.9:/{image}", Host: "images.example.com"}
	if limiter.subject != want {
		t.Fatalf("subject = %+v, want %+v", limiter.subject, want)
	}

	health := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("healthz should bypass rate limiting, got %d", health.Code)
	}
}

func TestTranscodeChargesRateLimit(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{responses: map[string]upstreamResponse{imageURL: {data: testPNG(t, 40, 20)}}}
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 10}}
	s := NewServer(Deps{
		Upstream:      up,
		Cache:         newMemoryCache(),
		Allow:         allowlist.Parse("*"),
		RateLimiter:   limiter,
		TranscodeCost: 4,
	})

	unchanged := serve(s, httptest.NewRequest(http.MethodGet, "/"+urlcodec.Encode(imageURL), nil))
	if unchanged.Code != http.StatusOK {
		t.Fatalf("fast path status = %d", unchanged.Code)
	}
	if charged := limiter.totalCharged(); charged != 0 {
		t.Fatalf("fast path charged %d tokens", charged)
	}

	path := "/" + urlcodec.Encode(imageURL) + "?w=10&f=webp"
	rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("transcode status = %d body = %q", rec.Code, rec.Body.String())
	}
	if charged := limiter.totalCharged(); charged != 3 {
		t.Fatalf("transcode charged %d tokens, want 3 on top of admission", charged)
	}
	if limiter.charged[0].subject.Host != "images.example.com" {
		t.Fatalf("charged subject = %+v", limiter.charged[0].subject)
	}

	s.Wait()
	cached := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	if cached.Code != http.StatusOK {
		t.Fatalf("cached status = %d", cached.Code)
	}
	if charged := limiter.totalCharged(); charged != 3 {
		t.Fatalf("cache hit charged extra tokens, total %d", charged)
	}
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/healthz":          "/healthz",
		"/metrics":          "/metrics",
		"/v1/prewarm":       "/v1/prewarm",
		"/v1/prewarm/abc":   "/v1/prewarm/{id}",
		"/aHR0cHM6Ly9hLmI=": "/{image}",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseVariant(t *testing.T) {
	t.Parallel()

	v := ParseVariant(url.Values{"w": {"300"}, "h": {"-5"}, "q": {"abc"}, "f": {" WEBP "}})
	if v.Width != 300 || v.Height != 0 || v.Quality != nil || v.Format != "webp" {
		t.Fatalf("variant = %+v", v)
	}
	v = ParseVariant(url.Values{"q": {"250"}})
	if v.Quality == nil || v.Params().Quality() != 100 {
		t.Fatalf("quality = %+v", v.Quality)
	}
}

func TestMethodNotAllowedForImages(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Allow: allowlist.Parse("*")})
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/"+urlcodec.Encode(imageURL), nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type upstreamResponse struct {
	data []byte
	err  error
}

type fakeUpstream struct {
	mu        sync.Mutex
	calls     int
	responses map[string]upstreamResponse
}

func (f *fakeUpstream) Get(_ context.Context, target string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	resp, ok := f.responses[target]
	if !ok {
		return nil, &fetch.StatusError{Status: 404}
	}
	return resp.data, resp.err
}

func (f *fakeUpstream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]cache.Entry)}
}

func (c *memoryCache) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, entry cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type fakeQueue struct {
	payloads []queue.PrewarmPayload
}

func (q *fakeQueue) EnqueuePrewarm(_ context.Context, payload queue.PrewarmPayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default"}, nil
}

type charge struct {
	subject ratelimit.Subject
	tokens  int
}

type fakeLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	subject  ratelimit.Subject
	charged  []charge
}

func (l *fakeLimiter) Allow(_ context.Context, subject ratelimit.Subject) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subject = subject
	return l.decision, nil
}

func (l *fakeLimiter) Charge(_ context.Context, subject ratelimit.Subject, tokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charged = append(l.charged, charge{subject: subject, tokens: tokens})
	return nil
}

func (l *fakeLimiter) totalCharged() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, c := range l.charged {
		total += c.tokens
	}
	return total
}

func testPNG(t testing.TB, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 6), G: uint8(y * 6), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
