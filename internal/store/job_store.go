package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelproxy/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	// UpdateStatus sets the status and the failure detail, which is cleared
	// when detail is empty.
	UpdateStatus(ctx context.Context, id, status, detail string) (domain.Job, error)
}
