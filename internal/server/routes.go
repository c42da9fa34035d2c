package server

import (
	"capture/internal/core/capture"
	"capture/internal/core/job"
	"capture/internal/health"
	"capture/internal/platform/redis"
	tasks "capture/internal/platform/tasks"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Capture *capture.Service
	Jobs    *job.Service
	Tasks   *tasks.Client
	Redis   *redis.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.Handler {
	healthHandler := health.New(d.Redis)
	app.Get("/v1/health", health.Limiter(), healthHandler.Handle)

	api := app.Group("/v1")

	captureHandler := capture.NewHandler(d.Capture, d.Tasks, d.Jobs)
	api.Post("/captures", captureHandler.HandleCreate)
	api.Get("/captures", captureHandler.HandleGet)

	return healthHandler
}
