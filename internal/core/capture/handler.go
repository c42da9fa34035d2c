package capture

import (
	"errors"
	"strings"

	"capture/internal/core/browser"
	"capture/internal/core/job"
	"capture/internal/core/request"
	"capture/internal/core/storage"
	tasks "capture/internal/platform/tasks"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	service *Service
	tasks   *tasks.Client
	jobs    *job.Service
}

// NewHandler wires the capture endpoints. tasks and jobs may be nil when no
// Redis is configured; async captures are then rejected with a clear error.
func NewHandler(service *Service, tasks *tasks.Client, jobs *job.Service) *Handler {
	return &Handler{service: service, tasks: tasks, jobs: jobs}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type jobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

type uploadResponse struct {
	Success  bool     `json:"success"`
	URL      string   `json:"url"`
	Bucket   string   `json:"bucket"`
	Key      string   `json:"key"`
	Size     int      `json:"size"`
	Provider string   `json:"provider"`
	Warnings []string `json:"warnings,omitempty"`
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorResponse{Success: false, Error: msg})
}

// HandleCreate serves POST /v1/captures. Synchronous requests stream the
// artifact bytes (or the storage URL when storage was requested); async
// requests come back with a job id to poll.
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req request.CaptureRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	if req.URL == "" {
		return fail(c, fiber.StatusBadRequest, "url is required")
	}

	if req.Async {
		if h.tasks == nil || h.jobs == nil {
			return fail(c, fiber.StatusBadRequest, "async captures require a Redis-backed queue")
		}
		id, err := h.service.Enqueue(c.Context(), h.tasks, req)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(jobResponse{Success: true, JobID: id})
	}

	res, err := h.service.Capture(c.Context(), req)
	if err != nil {
		return fail(c, statusFor(err), err.Error())
	}

	if res.Upload != nil {
		return c.JSON(uploadResponse{
			Success:  true,
			URL:      res.Upload.URL,
			Bucket:   res.Upload.Bucket,
			Key:      res.Upload.Key,
			Size:     res.Upload.Size,
			Provider: res.Upload.Provider,
			Warnings: res.Warnings,
		})
	}

	c.Set("Content-Type", res.ContentType)
	if len(res.Warnings) > 0 {
		c.Set("X-Capture-Warnings", warningsHeader(res.Warnings))
	}
	return c.Send(res.Bytes)
}

// HandleGet serves GET /v1/captures?job_id= for async job polling.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	if h.jobs == nil {
		return fail(c, fiber.StatusBadRequest, "async captures require a Redis-backed queue")
	}
	jobID := c.Query("job_id")
	if jobID == "" {
		return fail(c, fiber.StatusBadRequest, "job_id is required")
	}
	j, err := h.jobs.Get(c.Context(), jobID)
	if err != nil {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	if j.Status != job.StatusCompleted && j.Status != job.StatusFailed {
		return c.Status(fiber.StatusAccepted).JSON(j)
	}
	return c.JSON(j)
}

func statusFor(err error) int {
	var uploadErr *storage.UploadError
	switch {
	case errors.Is(err, request.ErrInvalid):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrUnknownMockup):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrNotConfigured):
		return fiber.StatusBadRequest
	case errors.Is(err, browser.ErrElementNotFound):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &uploadErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// warningsHeader flattens warnings into one header value. Warning text carries
// wrapped browser errors that can contain newlines, which are not valid in a
// header.
func warningsHeader(warnings []string) string {
	sanitize := strings.NewReplacer("\r", " ", "\n", " ")
	out := ""
	for i, w := range warnings {
		if i > 0 {
			out += "; "
		}
		out += sanitize.Replace(w)
	}
	return out
}
