// Package queue enqueues document extraction jobs on asynq and reports their status.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const TaskTypeExtraction = "document:extract"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
	// ErrBrokerUnavailable means no job was queued and none is known to exist for the
	// document, so the caller may run the extraction itself.
	ErrBrokerUnavailable = errors.New("job broker unavailable")
)

type Config struct {
	Name        string
	MaxAttempts int
	JobTimeout  time.Duration
	Retention   time.Duration
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "documents"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// TaskClient and TaskInspector are the parts of asynq.Client and asynq.Inspector in use.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
	Close() error
}

// ExtractionQueue holds at most one extraction job per document: the job id is derived
// from the document id, so asynq rejects a second one while the first is retained.
type ExtractionQueue struct {
	client    TaskClient
	inspector TaskInspector
	status    StatusStore
	logger    logger.Logger
	config    Config
}

func NewExtractionQueue(redisOpt asynq.RedisConnOpt, status StatusStore, cfg Config, log logger.Logger) *ExtractionQueue {
	return NewExtractionQueueWith(asynq.NewClient(redisOpt), asynq.NewInspector(redisOpt), status, cfg, log)
}

func NewExtractionQueueWith(client TaskClient, inspector TaskInspector, status StatusStore, cfg Config, log logger.Logger) *ExtractionQueue {
	cfg.setDefaults()
	return &ExtractionQueue{
		client:    client,
		inspector: inspector,
		status:    status,
		logger:    log.Named("queue"),
		config:    cfg,
	}
}

// JobID is the task id used for a document's extraction job.
func JobID(documentID string) string {
	return "extract:" + documentID
}

// NewExtractionTask builds the task with its retry, timeout and retention options.
func NewExtractionTask(p models.ExtractionPayload, cfg Config) (*asynq.Task, error) {
	cfg.setDefaults()
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeExtraction, payload,
		asynq.TaskID(JobID(p.DocumentID)),
		asynq.Queue(cfg.Name),
		asynq.MaxRetry(cfg.MaxAttempts-1),
		asynq.Timeout(cfg.JobTimeout),
		asynq.Retention(cfg.Retention),
	), nil
}

func ParsePayload(t *asynq.Task) (models.ExtractionPayload, error) {
	var p models.ExtractionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if p.DocumentID == "" || p.PrimaryURL == "" {
		return p, errors.New("payload is missing documentId or primaryUrl")
	}
	return p, nil
}

// Enqueue returns Duplicate instead of an error while the document already has a
// waiting or running job. A finished job still retained by asynq is replaced.
func (q *ExtractionQueue) Enqueue(ctx context.Context, p models.ExtractionPayload) (*models.EnqueueResult, error) {
	task, err := NewExtractionTask(p, q.config)
	if err != nil {
		return nil, err
	}
	id := JobID(p.DocumentID)

	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		existing, lookupErr := q.inspector.GetTaskInfo(q.config.Name, id)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to inspect existing task: %w", lookupErr)
		}
		if !finished(existing.State) {
			q.logger.Info("extraction already in flight",
				logger.String("jobId", id),
				logger.String("state", existing.State.String()),
			)
			return &models.EnqueueResult{Queued: true, JobID: id, Duplicate: true}, nil
		}
		if err := q.inspector.DeleteTask(q.config.Name, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return nil, fmt.Errorf("failed to remove finished task: %w", err)
		}
		info, err = q.client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// another request queued the document between delete and enqueue
			return &models.EnqueueResult{Queued: true, JobID: id, Duplicate: true}, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enqueue task: %w", ErrBrokerUnavailable, err)
	}

	if err := q.status.Save(ctx, &models.JobStatus{
		JobID:      info.ID,
		DocumentID: p.DocumentID,
		State:      models.JobWaiting,
		UpdatedAt:  time.Now(),
	}); err != nil {
		q.logger.Warn("failed to record job status", logger.String("jobId", info.ID), logger.Error(err))
	}

	q.logger.Info("extraction enqueued",
		logger.String("jobId", info.ID),
		logger.String("documentId", p.DocumentID),
		logger.String("queue", info.Queue),
	)
	return &models.EnqueueResult{Queued: true, JobID: info.ID}, nil
}

// GetJobStatus combines asynq's view of the task with the progress the worker recorded.
// Once asynq has purged the task, the recorded status is all that is left.
func (q *ExtractionQueue) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	recorded, err := q.status.Get(ctx, jobID)
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	info, inspectErr := q.inspector.GetTaskInfo(q.config.Name, jobID)
	if inspectErr != nil {
		if isNotFound(inspectErr) {
			if recorded != nil {
				return recorded, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get task info: %w", inspectErr)
	}
	return mergeStatus(info, recorded), nil
}

// Cancel removes a waiting job or signals a running one to stop.
func (q *ExtractionQueue) Cancel(ctx context.Context, jobID string) error {
	info, err := q.inspector.GetTaskInfo(q.config.Name, jobID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to get task info: %w", err)
	}

	switch {
	case finished(info.State):
		return ErrJobFinished
	case info.State == asynq.TaskStateActive:
		err = q.inspector.CancelProcessing(jobID)
	default:
		err = q.inspector.DeleteTask(q.config.Name, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	status := mergeStatus(info, nil)
	status.State = models.JobFailed
	status.FailureReason = "cancelled"
	if err := q.status.Save(ctx, status); err != nil {
		q.logger.Warn("failed to record cancellation", logger.String("jobId", jobID), logger.Error(err))
	}
	q.logger.Info("extraction cancelled", logger.String("jobId", jobID))
	return nil
}

func (q *ExtractionQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

func finished(s asynq.TaskState) bool {
	return s == asynq.TaskStateCompleted || s == asynq.TaskStateArchived
}

func isNotFound(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

// StateOf maps asynq's task states onto the four job states.
func StateOf(s asynq.TaskState) models.JobState {
	switch s {
	case asynq.TaskStateActive:
		return models.JobActive
	case asynq.TaskStateCompleted:
		return models.JobCompleted
	case asynq.TaskStateArchived:
		return models.JobFailed
	default:
		return models.JobWaiting
	}
}

func mergeStatus(info *asynq.TaskInfo, recorded *models.JobStatus) *models.JobStatus {
	status := &models.JobStatus{
		JobID:     info.ID,
		State:     StateOf(info.State),
		Attempt:   info.Retried + 1,
		UpdatedAt: time.Now(),
	}
	if p, err := ParsePayload(asynq.NewTask(info.Type, info.Payload)); err == nil {
		status.DocumentID = p.DocumentID
	}
	if recorded != nil {
		status.Progress = recorded.Progress
		status.Result = recorded.Result
		status.FailureReason = recorded.FailureReason
		if status.DocumentID == "" {
			status.DocumentID = recorded.DocumentID
		}
		status.UpdatedAt = recorded.UpdatedAt
	}

	switch status.State {
	case models.JobCompleted:
		status.Progress = 100
		if status.Result == nil && len(info.Result) > 0 {
			var res models.JobResult
			if err := json.Unmarshal(info.Result, &res); err == nil {
				status.Result = &res
			}
		}
		if !info.CompletedAt.IsZero() {
			status.UpdatedAt = info.CompletedAt
		}
	case models.JobFailed:
		if status.FailureReason == "" {
			status.FailureReason = info.LastErr
		}
	case models.JobWaiting:
		// a retry starts over
		if info.State == asynq.TaskStateRetry {
			status.Progress = 0
			status.FailureReason = info.LastErr
		}
	}
	return status
}
