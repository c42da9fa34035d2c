package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"capture/internal/config"
	"capture/internal/core/browser"
	"capture/internal/core/cache"
	"capture/internal/core/job"
	"capture/internal/core/mockup"
	"capture/internal/core/request"
	"capture/internal/core/storage"
	"capture/internal/logger"
	tasks "capture/internal/platform/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskTypeCapture = "capture:task"

// ErrUnknownMockup is a configuration error: the request named a mockup id
// that is not in the catalog. Raised before any browser work.
var ErrUnknownMockup = errors.New("unknown mockup id")

// Driver produces the raw artifact for one request. Satisfied by
// *browser.Driver; faked in tests.
type Driver interface {
	Capture(ctx context.Context, req *request.CaptureRequest) (*browser.Artifact, error)
}

// Uploader delivers artifacts to object storage. Satisfied by
// *storage.Uploader.
type Uploader interface {
	Configured() bool
	Upload(ctx context.Context, data []byte, in storage.UploadInput) (*storage.UploadResult, error)
}

// Result is the outcome of one capture, either raw bytes or a delivery URL
// when storage was requested.
type Result struct {
	Bytes       []byte
	ContentType string
	FromCache   bool
	LoadTimeMS  int
	Warnings    []string
	Upload      *storage.UploadResult
}

type Service struct {
	log      *logger.Logger
	cfg      config.Config
	driver   Driver
	mockups  *mockup.Registry
	store    cache.Store
	uploader Uploader
	jobs     *job.Service
}

func New(cfg config.Config, driver Driver, mockups *mockup.Registry, store cache.Store, uploader Uploader, jobs *job.Service) *Service {
	return &Service{
		log:      logger.New("CaptureService"),
		cfg:      cfg,
		driver:   driver,
		mockups:  mockups,
		store:    store,
		uploader: uploader,
		jobs:     jobs,
	}
}

// Capture runs the full pipeline: validate, cache lookup, browser run,
// post-process, cache write, optional upload.
func (s *Service) Capture(ctx context.Context, raw request.CaptureRequest) (*Result, error) {
	req := raw.Normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Configuration errors fail before any browser work.
	var tpl *mockup.Template
	if req.Mockup != "" {
		t, ok := s.mockups.Get(req.Mockup)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMockup, req.Mockup)
		}
		// Mockup compositing never applies to paginated output.
		if req.Format != request.FormatPDF {
			tpl = t
			if req.Device == "" && req.Width == 0 {
				req.Device = t.Class.Device()
			}
		}
	}
	if req.Storage.Save && !s.uploader.Configured() {
		return nil, storage.ErrNotConfigured
	}

	key := cache.Fingerprint(&req)
	useCache := !req.Cache.Disabled
	if useCache {
		if cached, ok := s.store.Get(ctx, key); ok {
			s.log.LogDebugf("cache hit for %s", key)
			res := &Result{Bytes: cached, ContentType: req.Format.ContentType(), FromCache: true}
			return s.deliver(ctx, &req, res)
		}
	}

	start := time.Now()
	art, err := s.driver.Capture(ctx, &req)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Bytes:       art.Bytes,
		ContentType: req.Format.ContentType(),
		LoadTimeMS:  int(time.Since(start).Milliseconds()),
		Warnings:    art.Warnings,
	}

	if !art.IsPDF {
		if tpl != nil {
			framed, warning, err := mockup.Composite(res.Bytes, tpl)
			if err != nil {
				return nil, fmt.Errorf("mockup compositing failed: %w", err)
			}
			if warning != "" {
				res.Warnings = append(res.Warnings, warning)
			}
			res.Bytes = framed
		}
		converted, err := mockup.Transcode(res.Bytes, req.Format, req.Quality)
		if err != nil {
			return nil, err
		}
		res.Bytes = converted
	}

	if useCache {
		ttl := req.Cache.TTL
		if ttl <= 0 {
			ttl = s.cfg.CacheDefaultTTL
		}
		s.store.Put(ctx, key, res.Bytes, time.Duration(ttl)*time.Second)
	}

	return s.deliver(ctx, &req, res)
}

// deliver hands the artifact to object storage when the request asked for it.
// Upload failures surface: they are the one action the caller explicitly
// requested beyond the capture itself.
func (s *Service) deliver(ctx context.Context, req *request.CaptureRequest, res *Result) (*Result, error) {
	if !req.Storage.Save {
		return res, nil
	}
	up, err := s.uploader.Upload(ctx, res.Bytes, storage.UploadInput{
		Bucket:      req.Storage.Bucket,
		Path:        req.Storage.Path,
		Filename:    req.Storage.Filename,
		ContentType: res.ContentType,
		ACL:         req.Storage.ACL,
	})
	if err != nil {
		return nil, err
	}
	res.Upload = up
	return res, nil
}

// taskPayload is the asynq task body for background captures.
type taskPayload struct {
	JobID   string                 `json:"job_id"`
	Request request.CaptureRequest `json:"request"`
}

// Enqueue schedules a background capture and returns its job id.
func (s *Service) Enqueue(ctx context.Context, t *tasks.Client, req request.CaptureRequest) (string, error) {
	jobID := uuid.NewString()
	payload, err := json.Marshal(taskPayload{JobID: jobID, Request: req})
	if err != nil {
		return "", err
	}
	if err := s.jobs.InitPending(ctx, jobID, req.URL); err != nil {
		return "", err
	}
	if err := t.Enqueue(asynq.NewTask(TaskTypeCapture, payload), "default", s.cfg.TaskMaxRetries); err != nil {
		return "", err
	}
	return jobID, nil
}

// HandleTask is the asynq worker entry point for background captures. The
// artifact always ends up behind a URL: object storage when configured,
// local disk under DATA_DIR otherwise.
func (s *Service) HandleTask(ctx context.Context, task *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return err
	}
	if err := s.jobs.SetProcessing(ctx, p.JobID); err != nil {
		return err
	}

	req := p.Request
	if s.uploader.Configured() {
		req.Storage.Save = true
	}
	res, err := s.Capture(ctx, req)
	if err != nil {
		s.log.LogErrorf("background capture %s failed: %v", p.JobID, err)
		return s.jobs.Fail(ctx, p.JobID, err)
	}

	publicURL := ""
	if res.Upload != nil {
		publicURL = res.Upload.URL
	} else {
		publicURL, err = s.saveLocal(res.Bytes, req.Format)
		if err != nil {
			return s.jobs.Fail(ctx, p.JobID, err)
		}
	}

	width, height := imageDimensions(res.Bytes)
	return s.jobs.Complete(ctx, p.JobID, &job.CaptureResult{
		URL:         req.URL,
		PublicURL:   publicURL,
		ContentType: res.ContentType,
		Size:        len(res.Bytes),
		Width:       width,
		Height:      height,
		LoadTimeMS:  res.LoadTimeMS,
		Warnings:    res.Warnings,
	})
}

// saveLocal is the no-storage fallback for background jobs: write under
// DATA_DIR and serve via the /files static route.
func (s *Service) saveLocal(data []byte, format request.Format) (string, error) {
	dir := filepath.Join(s.cfg.DataDir, "captures")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := string(format)
	if ext == "" {
		ext = "png"
	}
	name := time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8] + "." + ext
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", err
	}
	return "/files/captures/" + name, nil
}

func imageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
