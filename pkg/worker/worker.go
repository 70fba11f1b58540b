// Package worker runs queued extraction jobs on an asynq server.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	Queue         string
	Concurrency   int
	JobsPerMinute int
	Burst         int
	MaxAttempts   int
	BackoffBase   time.Duration
}

func (c *Config) setDefaults() {
	if c.Queue == "" {
		c.Queue = "documents"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.JobsPerMinute <= 0 {
		c.JobsPerMinute = 10
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
}

// BaseWorker owns an asynq server and the mux its handlers are registered on.
type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopOnce sync.Once
	stopChan chan struct{}
}

// Start returns once the server is running. Cancelling ctx stops it.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("worker started")
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

// Stop waits for running jobs up to the server's shutdown timeout.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Shutdown()
		w.logger.Info("worker stopped")
	})
	return nil
}
