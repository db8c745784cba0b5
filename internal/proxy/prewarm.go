package proxy

import (
	"net/http"
	"net/url"
	"time"

	"github.com/dunamismax/pixelproxy/internal/cache"
	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/dunamismax/pixelproxy/internal/id"
	"github.com/dunamismax/pixelproxy/internal/queue"
	"go.uber.org/zap"
)

func (s *Server) handleCreatePrewarm(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil || s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "prewarm is not configured"})
		return
	}

	var req domain.PrewarmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.allow.Allows(target.Hostname()) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "domain not allowed"})
		return
	}

	variant := req.Variant()
	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusCreated,
		URL:        target.String(),
		Variant:    variant,
		WebhookURL: req.WebhookURL,
		CacheKey:   cache.Key(target.String(), variant.Params().Canonical()),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("create prewarm job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queue.EnqueuePrewarm(r.Context(), queue.PrewarmPayload{
		JobID:       job.ID,
		URL:         job.URL,
		Variant:     job.Variant,
		CacheKey:    job.CacheKey,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error("enqueue prewarm job failed", zap.String("job_id", job.ID), zap.Error(err))
		if _, uerr := s.jobs.UpdateStatus(r.Context(), job.ID, domain.JobStatusFailed, "enqueue failed"); uerr != nil {
			s.logger.Warn("update status failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobs.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued, ""); err != nil {
		s.logger.Warn("update status failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     domain.JobStatusQueued,
		"cache_key":  job.CacheKey,
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": "/v1/prewarm/" + job.ID,
	})
}

func (s *Server) handleGetPrewarm(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "prewarm is not configured"})
		return
	}

	jobID := r.PathValue("id")
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch prewarm job failed", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"url":        job.URL,
		"variant":    job.Variant,
		"cache_key":  job.CacheKey,
		"error":      job.Error,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}
