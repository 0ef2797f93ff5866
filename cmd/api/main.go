package main

import (
	"context"
	"net/http"
	"time"

	"refinery/internal/config"
	"refinery/internal/convert"
	"refinery/internal/httpapi"
	"refinery/internal/httpapi/handlers"
	"refinery/internal/metrics"
	"refinery/internal/pkg/logger"
	"refinery/internal/pkg/shutdown"
	"refinery/internal/raster"
	"refinery/internal/storage"
	"refinery/internal/worker/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	cfg.Log.ServiceName = "refinery-api"
	log := logger.New(cfg.Log)

	log.Info("starting refinery API",
		"port", cfg.HTTP.Port,
		"storage", cfg.Storage.Provider,
		"queue_driver", cfg.Queue.Driver,
	)

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	ctx := shutdownMgr.Context()

	// The provider outlives the shutdown context so in-flight requests finish.
	sp, err := storage.NewProvider(context.Background(), cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	// Trigger queue, fed by POST /uploads and POST /jobs
	trigger, err := queue.NewPublisher(cfg.Queue, cfg.Queue.TriggerQueue)
	if err != nil {
		log.LogFatal("failed to connect trigger queue", err)
	}
	shutdownMgr.Register("trigger-queue", func(ctx context.Context) error {
		return trigger.Close()
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := trigger.Ping(pingCtx); err != nil {
		log.Warn("trigger queue unreachable, uploads will fail until it recovers", "error", err.Error())
	}
	cancel()

	provider := raster.NewSoftwareProvider(raster.SoftwareOptions{
		MaxContexts: int64(cfg.Preview.MaxContexts),
		Supersample: cfg.Preview.Supersample,
	})
	conv, err := convert.New(provider, convert.Options{
		Width:            cfg.Preview.Width,
		Height:           cfg.Preview.Height,
		CompressionLevel: cfg.Preview.CompressionLevel,
		Colors:           cfg.Preview.Colors,
	}, log)
	if err != nil {
		log.LogFatal("failed to create converter", err)
	}

	collector := metrics.NewCollector("refinery")
	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.New(handlers.Deps{
			SP:             sp,
			Trigger:        trigger,
			Converter:      conv.WithObserver(collector.ObserveStage),
			Log:            log,
			UploadBucket:   cfg.Storage.UploadBucket,
			TriggerQueue:   cfg.Queue.TriggerQueue,
			MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		}),
		Metrics:        collector,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	if err := shutdownMgr.Wait(); err != nil {
		log.LogFatal("shutdown incomplete", err)
	}
}
