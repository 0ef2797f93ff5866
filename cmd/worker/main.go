package main

import (
	"context"
	"net/http"
	"time"

	"refinery/internal/config"
	"refinery/internal/convert"
	"refinery/internal/metrics"
	"refinery/internal/pkg/logger"
	"refinery/internal/pkg/shutdown"
	"refinery/internal/raster"
	"refinery/internal/storage"
	"refinery/internal/worker"
	"refinery/internal/worker/notify"
	"refinery/internal/worker/processor"
	"refinery/internal/worker/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	cfg.Log.ServiceName = "refinery-worker"
	log := logger.New(cfg.Log)

	log.Info("starting refinery worker",
		"queue_driver", cfg.Queue.Driver,
		"trigger_queue", cfg.Queue.TriggerQueue,
		"notify_queue", cfg.Queue.NotifyQueue,
		"storage", cfg.Storage.Provider,
		"concurrency", cfg.Worker.Concurrency,
	)

	shutdownMgr := shutdown.NewManager(log, cfg.Worker.JobTimeout+30*time.Second)
	ctx := shutdownMgr.Context()

	// The provider outlives the shutdown context so draining jobs keep working.
	sp, err := storage.NewProvider(context.Background(), cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := sp.Ping(pingCtx); err != nil {
		log.Warn("storage ping failed, continuing", "provider", sp.Provider(), "error", err.Error())
	}
	cancel()
	log.Info("storage provider initialized", "provider", sp.Provider())

	// Queues
	consumer, err := queue.NewConsumer(cfg.Queue, cfg.Worker.Concurrency)
	if err != nil {
		log.LogFatal("failed to connect trigger queue", err)
	}
	shutdownMgr.Register("trigger-queue", func(ctx context.Context) error {
		return consumer.Close()
	})
	if n, err := consumer.Recover(ctx); err != nil {
		log.Warn("could not recover in-flight messages", "error", err.Error())
	} else if n > 0 {
		log.Info("recovered in-flight messages", "count", n)
	}
	// Peers that crash after startup are picked up by the periodic sweep.
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := consumer.Recover(ctx); err != nil {
					log.Warn("in-flight recovery sweep failed", "error", err.Error())
				} else if n > 0 {
					log.Info("recovered in-flight messages", "count", n)
				}
			}
		}
	}()

	notifyQueue, err := queue.NewPublisher(cfg.Queue, cfg.Queue.NotifyQueue)
	if err != nil {
		log.LogFatal("failed to connect notification queue", err)
	}
	shutdownMgr.Register("notify-queue", func(ctx context.Context) error {
		return notifyQueue.Close()
	})

	// Conversion
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
	proc := processor.New(processor.Deps{
		SP:             sp,
		Converter:      conv,
		Notifier:       notify.NewPublisher(notifyQueue, log),
		PublicBucket:   cfg.Storage.PublicBucket,
		MaxSourceBytes: cfg.HTTP.MaxUploadBytes,
		Metrics:        collector,
		Log:            log,
	})

	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		shutdownMgr.Register("metrics-server", func(ctx context.Context) error {
			return metricsServer.Shutdown(ctx)
		})
		go func() {
			log.Info("metrics server listening", "addr", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err.Error())
			}
		}()
	}

	// Registered last so it drains first, before the queues close.
	runDone := make(chan error, 1)
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		select {
		case err := <-runDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		err := worker.Run(ctx, worker.Deps{
			Queue:       consumer,
			Handler:     proc,
			Retryable:   processor.Retryable,
			Concurrency: cfg.Worker.Concurrency,
			JobTimeout:  cfg.Worker.JobTimeout,
			Log:         log,
		})
		if err != nil {
			log.Error("worker stopped with error", "error", err.Error())
		}
		runDone <- err
		_ = shutdownMgr.Shutdown()
	}()

	if err := shutdownMgr.Wait(); err != nil {
		log.LogFatal("shutdown incomplete", err)
	}
}
