package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelproxy/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS prewarm_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	url TEXT NOT NULL,
	variant JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	cache_key TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure prewarm_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	variantJSON, err := json.Marshal(job.Variant)
	if err != nil {
		return fmt.Errorf("marshal job variant: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO prewarm_jobs (id, status, url, variant, webhook_url, cache_key, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID,
		job.Status,
		job.URL,
		variantJSON,
		job.WebhookURL,
		job.CacheKey,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, url, variant, webhook_url, cache_key, error, created_at, updated_at
		 FROM prewarm_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job         domain.Job
		variantJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.URL,
		&variantJSON,
		&job.WebhookURL,
		&job.CacheKey,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(variantJSON, &job.Variant); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job variant: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status, detail string) (domain.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE prewarm_jobs
		 SET status = $1, error = $2, updated_at = $3
		 WHERE id = $4`,
		status,
		detail,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	return job, nil
}
