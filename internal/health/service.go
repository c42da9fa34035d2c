package health

import (
	"context"
	"sync"
	"time"

	"capture/internal/logger"
	"capture/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handler struct {
	log       *logger.Logger
	redis     *redis.Service
	startTime time.Time
	isReady   bool
}

// New creates the health handler. redis may be nil when running cache-only.
func New(redisSvc *redis.Service) *Handler {
	return &Handler{log: logger.New("Health"), redis: redisSvc, startTime: time.Now()}
}

// SetReady marks the application as ready to receive traffic.
func (h *Handler) SetReady() {
	h.isReady = true
	h.log.LogInfof("application ready after %v", time.Since(h.startTime))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Overall struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

// Handle responds with the system's health, probing each dependency.
func (h *Handler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus)
	allOk := true
	var wg sync.WaitGroup
	var mu sync.Mutex

	check := func(name string, fn func(context.Context) error) {
		defer wg.Done()
		status := ComponentStatus{Status: "ok"}
		if err := fn(ctx); err != nil {
			status = ComponentStatus{Status: "error", Error: err.Error()}
			mu.Lock()
			allOk = false
			mu.Unlock()
			h.log.LogErrorf("health check failed for %s: %v", name, err)
		}
		mu.Lock()
		statuses[name] = status
		mu.Unlock()
	}

	if h.redis != nil {
		wg.Add(1)
		go check("redis", h.redis.HealthCheck)
	}
	wg.Wait()

	resp := Overall{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         h.isReady,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}
	if allOk && h.isReady {
		resp.OverallStatus = "ok"
		return c.JSON(resp)
	}
	resp.OverallStatus = "degraded"
	return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
}

// Limiter keeps health probes from being used as a load generator.
func Limiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
	})
}
