package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/reading-assistant/config"
	"github.com/feichai0017/reading-assistant/internal/bootstrap"
	"github.com/feichai0017/reading-assistant/pkg/logger"
	"github.com/feichai0017/reading-assistant/pkg/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build application", logger.Error(err))
		os.Exit(1)
	}
	defer app.Close(context.Background())

	extractionWorker := worker.NewExtractionWorker(app.RedisOpt, app.Documents, app.Status, worker.Config{
		Queue:         cfg.Queue.Name,
		Concurrency:   cfg.Queue.Concurrency,
		JobsPerMinute: cfg.Queue.JobsPerMinute,
		Burst:         cfg.Queue.Burst,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		BackoffBase:   cfg.Queue.BackoffBase,
	}, log)

	if err := extractionWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	if err := extractionWorker.Stop(); err != nil {
		log.Error("Worker stop failed", logger.Error(err))
	}
	log.Info("Worker stopped")
}
