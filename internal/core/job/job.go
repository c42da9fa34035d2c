package job

import (
	"context"
	"fmt"

	rds "capture/internal/platform/redis"
)

type Type string

const TypeCapture Type = "capture"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CaptureResult is what an async capture job leaves behind once the artifact
// has been delivered to storage or the local fallback.
type CaptureResult struct {
	URL         string   `json:"url"`
	PublicURL   string   `json:"public_url,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Size        int      `json:"size,omitempty"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
	LoadTimeMS  int      `json:"load_time_ms,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

type Job struct {
	JobID  string         `json:"job_id"`
	Type   Type           `json:"type"`
	Status Status         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Result *CaptureResult `json:"result,omitempty"`
}

// Service persists job state in Redis so workers and API instances share it.
type Service struct{ redis *rds.Service }

func NewService(redis *rds.Service) *Service { return &Service{redis: redis} }

func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if err := s.redis.CacheGet(ctx, key(jobID), &j); err != nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return &j, nil
}

func (s *Service) store(ctx context.Context, j Job) error {
	if err := s.redis.CacheSet(ctx, key(j.JobID), j, ttl(j.Status)); err != nil {
		return err
	}
	// Notify any status listeners.
	_ = s.redis.Client().Publish(ctx, key(j.JobID), string(j.Status)).Err()
	return nil
}

func (s *Service) InitPending(ctx context.Context, jobID, url string) error {
	return s.store(ctx, Job{JobID: jobID, Type: TypeCapture, Status: StatusPending, Result: &CaptureResult{URL: url}})
}

func (s *Service) SetProcessing(ctx context.Context, jobID string) error {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	j.Status = StatusProcessing
	return s.store(ctx, *j)
}

func (s *Service) Complete(ctx context.Context, jobID string, result *CaptureResult) error {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		j = &Job{JobID: jobID, Type: TypeCapture}
	}
	j.Status = StatusCompleted
	j.Result = result
	return s.store(ctx, *j)
}

func (s *Service) Fail(ctx context.Context, jobID string, failure error) error {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		j = &Job{JobID: jobID, Type: TypeCapture}
	}
	j.Status = StatusFailed
	if failure != nil {
		j.Error = failure.Error()
	}
	return s.store(ctx, *j)
}

func key(id string) string { return "job:" + id }

func ttl(s Status) int {
	if s == StatusCompleted || s == StatusFailed {
		return 3600
	}
	return 600
}
