package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelproxy/internal/domain"
	"github.com/hibiken/asynq"
)

const TypePrewarmImage = "image:prewarm"

type PrewarmPayload struct {
	JobID       string         `json:"job_id"`
	URL         string         `json:"url"`
	Variant     domain.Variant `json:"variant"`
	CacheKey    string         `json:"cache_key"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

func NewPrewarmTask(payload PrewarmPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal prewarm payload: %w", err)
	}
	return asynq.NewTask(TypePrewarmImage, body), nil
}

func ParsePrewarmPayload(task *asynq.Task) (PrewarmPayload, error) {
	var payload PrewarmPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PrewarmPayload{}, fmt.Errorf("unmarshal prewarm payload: %w", err)
	}
	return payload, nil
}
