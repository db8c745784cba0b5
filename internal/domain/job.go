package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// PrewarmRequest asks for one variant of an upstream image to be
// transformed ahead of time and placed in the response cache.
type PrewarmRequest struct {
	URL        string `json:"url"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Quality    *int   `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Variant holds the transformation parameters of a job as submitted.
type Variant struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Quality *int   `json:"quality,omitempty"`
	Format  string `json:"format,omitempty"`
}

type Job struct {
	ID         string
	Status     string
	URL        string
	Variant    Variant
	WebhookURL string
	CacheKey   string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r PrewarmRequest) Variant() Variant {
	return Variant{
		Width:   r.Width,
		Height:  r.Height,
		Quality: r.Quality,
		Format:  strings.ToLower(strings.TrimSpace(r.Format)),
	}
}

// Params converts the variant into bounded pipeline parameters. Absent
// fields take the pipeline defaults.
func (v Variant) Params() pipeline.Params {
	opts := []pipeline.ParamOption{
		pipeline.WithMaxWidth(v.Width),
		pipeline.WithMaxHeight(v.Height),
	}
	if v.Quality != nil {
		opts = append(opts, pipeline.WithQuality(*v.Quality))
	}
	if v.Format != "" {
		opts = append(opts, pipeline.WithFormat(format.Parse(v.Format)))
	}
	return pipeline.NewParams(opts...)
}

func (r PrewarmRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("url is required")
	}
	if err := validateHTTPURL(r.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if r.Width < 0 || r.Height < 0 {
		return errors.New("width and height must not be negative")
	}
	if r.Quality != nil && (*r.Quality < 0 || *r.Quality > 100) {
		return fmt.Errorf("quality must be within 0..100, got %d", *r.Quality)
	}
	switch strings.ToLower(strings.TrimSpace(r.Format)) {
	case "", "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("unsupported format: %s", r.Format)
	}
	if r.WebhookURL != "" {
		if err := validateHTTPURL(r.WebhookURL); err != nil {
			return fmt.Errorf("webhook_url: %w", err)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
