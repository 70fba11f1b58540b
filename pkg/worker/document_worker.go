package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/service/document"
	"github.com/feichai0017/reading-assistant/internal/service/extraction"
	"github.com/feichai0017/reading-assistant/pkg/logger"
	"github.com/feichai0017/reading-assistant/pkg/queue"
)

// ExtractionProcessor is the part of the document service a job needs.
type ExtractionProcessor interface {
	ProcessExtraction(ctx context.Context, p models.ExtractionPayload, progress document.ProgressFunc) (*models.JobResult, error)
	MarkExtractionFailed(ctx context.Context, documentID string, cause error) error
}

// RetryDelay doubles base for every retry already made: base, 2*base, 4*base...
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if n > 16 {
			n = 16
		}
		return base << n
	}
}

// NewStartLimiter allows jobsPerMinute job starts per minute.
func NewStartLimiter(jobsPerMinute, burst int) *rate.Limiter {
	if jobsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(jobsPerMinute)), burst)
}

// ExtractionHandler runs one attempt of an extraction job.
type ExtractionHandler struct {
	processor ExtractionProcessor
	status    queue.StatusStore
	limiter   *rate.Limiter
	logger    logger.Logger
	maxRetry  int
}

func NewExtractionHandler(processor ExtractionProcessor, status queue.StatusStore, cfg Config, log logger.Logger) *ExtractionHandler {
	cfg.setDefaults()
	return &ExtractionHandler{
		processor: processor,
		status:    status,
		limiter:   NewStartLimiter(cfg.JobsPerMinute, cfg.Burst),
		logger:    log.Named("extraction-worker"),
		maxRetry:  cfg.MaxAttempts - 1,
	}
}

// ProcessTask waits for the start limiter, then runs the attempt. Failures that another
// attempt cannot fix are returned wrapping asynq.SkipRetry. When an attempt is the last
// one, the document is marked failed before the error is returned.
func (h *ExtractionHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParsePayload(t)
	if err != nil {
		h.logger.Error("invalid extraction task", logger.String("payload", string(t.Payload())), logger.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	jobID := queue.JobID(p.DocumentID)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = h.maxRetry
	}
	log := h.logger.With(
		logger.String("jobId", jobID),
		logger.String("documentId", p.DocumentID),
		logger.Int("attempt", retried+1),
	)
	status := &models.JobStatus{JobID: jobID, DocumentID: p.DocumentID, State: models.JobWaiting, Attempt: retried + 1}

	// a wait cut short by cancellation or timeout counts as a failed attempt
	if err := h.limiter.Wait(ctx); err != nil {
		return h.fail(ctx, log, p, status, fmt.Errorf("failed to wait for start limiter: %w", err), retried >= maxRetry)
	}
	log.Info("extraction started")

	status.State = models.JobActive
	h.record(ctx, status)

	result, err := h.processor.ProcessExtraction(ctx, p, func(percent int) {
		status.Progress = percent
		h.record(ctx, status)
	})
	if err != nil {
		return h.fail(ctx, log, p, status, err, retried >= maxRetry)
	}

	if rw := t.ResultWriter(); rw != nil {
		if data, err := json.Marshal(result); err == nil {
			if _, err := rw.Write(data); err != nil {
				log.Warn("failed to write task result", logger.Error(err))
			}
		}
	}
	status.State = models.JobCompleted
	status.Progress = 100
	status.Result = result
	h.record(ctx, status)
	log.Info("extraction completed",
		logger.Int("contentVersion", result.ContentVersion),
		logger.Int("chunks", result.ChunkCount),
	)
	return nil
}

func (h *ExtractionHandler) fail(ctx context.Context, log logger.Logger, p models.ExtractionPayload, status *models.JobStatus, err error, lastAttempt bool) error {
	cancelled := errors.Is(err, context.Canceled)
	retryable := extraction.IsRetryable(err) && !cancelled
	final := lastAttempt || !retryable

	status.FailureReason = err.Error()
	if cancelled {
		status.FailureReason = "cancelled"
	}
	if !final {
		status.State = models.JobWaiting
		status.Progress = 0
		h.record(context.WithoutCancel(ctx), status)
		log.Warn("extraction attempt failed, will retry", logger.Error(err))
		return err
	}

	status.State = models.JobFailed
	h.record(context.WithoutCancel(ctx), status)
	if markErr := h.processor.MarkExtractionFailed(context.WithoutCancel(ctx), p.DocumentID, err); markErr != nil {
		log.Error("failed to mark document failed", logger.Error(markErr))
	}
	log.Error("extraction failed",
		logger.String("kind", string(extraction.KindOf(err))),
		logger.Bool("retryable", retryable),
		logger.Error(err),
	)
	if !retryable {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (h *ExtractionHandler) record(ctx context.Context, status *models.JobStatus) {
	status.UpdatedAt = time.Now()
	if err := h.status.Save(ctx, status); err != nil {
		h.logger.Warn("failed to record job status", logger.String("jobId", status.JobID), logger.Error(err))
	}
}

// ExtractionWorker serves the extraction queue.
type ExtractionWorker struct {
	BaseWorker
	handler *ExtractionHandler
}

var _ Worker = (*ExtractionWorker)(nil)

func NewExtractionWorker(redisOpt asynq.RedisConnOpt, processor ExtractionProcessor, status queue.StatusStore, cfg Config, log logger.Logger) *ExtractionWorker {
	cfg.setDefaults()
	log = log.Named("worker")
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		RetryDelayFunc:  RetryDelay(cfg.BackoffBase),
		ShutdownTimeout: 30 * time.Second,
		Logger:          asynqLogger{log},
	})

	w := &ExtractionWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		handler: NewExtractionHandler(processor, status, cfg, log),
	}
	w.mux.Handle(queue.TaskTypeExtraction, w.handler)
	return w
}

// asynqLogger routes asynq's own messages through our logger.
type asynqLogger struct {
	l logger.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }
