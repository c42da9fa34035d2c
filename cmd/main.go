package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"capture/internal/config"
	"capture/internal/core/browser"
	"capture/internal/core/cache"
	"capture/internal/core/capture"
	"capture/internal/core/detect"
	"capture/internal/core/job"
	"capture/internal/core/mockup"
	"capture/internal/core/storage"
	"capture/internal/logger"
	rds "capture/internal/platform/redis"
	tasks "capture/internal/platform/tasks"
	"capture/internal/server"
	"capture/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logr := logger.New("main")
	log.Printf("[capture] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	// Redis is optional: without it the engine runs with the in-process
	// cache and synchronous captures only.
	var redisSvc *rds.Service
	if cfg.RedisAddr != "" {
		svc, err := rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			logr.LogFatal("redis connection failed", err)
		}
		redisSvc = svc
		defer redisSvc.Close()
	} else {
		logr.LogWarn("REDIS_ADDR not set, using in-process cache and sync captures only")
	}

	mockups, err := mockup.Load(cfg.MockupCatalog)
	if err != nil {
		logr.LogFatal("mockup catalog load failed", err)
	}

	var detector detect.Detector
	if cfg.DetectorAPIKey != "" {
		detector = detect.NewClient(&http.Client{Timeout: 20 * time.Second}, cfg.DetectorEndpoint, cfg.DetectorAPIKey, cfg.DetectorModel)
	}

	store := cache.New(redisSvc, cache.Options{
		MaxEntries:   cfg.CacheMaxEntries,
		MaxValueSize: cfg.CacheMaxValueSize,
	})
	driver := browser.New(detector)
	uploader := storage.New(cfg)

	var jobSvc *job.Service
	var taskClient *tasks.Client
	var asynqServer *asynq.Server
	if redisSvc != nil {
		jobSvc = job.NewService(redisSvc)
		taskClient = tasks.New(redisSvc)
		asynqServer = asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{"default": 1},
		})
	}

	captureSvc := capture.New(cfg, driver, mockups, store, uploader, jobSvc)

	if asynqServer != nil {
		mux := worker.NewMux()
		mux.HandleFunc(capture.TaskTypeCapture, captureSvc.HandleTask)
		go func() {
			if err := asynqServer.Start(mux.Mux()); err != nil {
				log.Printf("[worker] stopped: %v\n", err)
			}
		}()
	}

	app := fiber.New(fiber.Config{
		AppName:   "Capture Engine",
		BodyLimit: 4 << 20,
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Locally saved artifacts are served under /files.
	app.Static("/files", cfg.DataDir)

	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Capture: captureSvc,
		Jobs:    jobSvc,
		Tasks:   taskClient,
		Redis:   redisSvc,
	})

	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("shutting down...")
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		if taskClient != nil {
			_ = taskClient.Close()
		}
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
