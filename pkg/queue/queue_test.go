package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

// fakeBroker stands in for Redis: tasks keyed by id, conflicts on a retained id.
type fakeBroker struct {
	tasks     map[string]*asynq.TaskInfo
	enqueued  int
	cancelled []string
	down      bool
	lookupErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{tasks: make(map[string]*asynq.TaskInfo)}
}

func (b *fakeBroker) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if b.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	var p models.ExtractionPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return nil, err
	}
	id := JobID(p.DocumentID)
	if _, ok := b.tasks[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	b.enqueued++
	info := &asynq.TaskInfo{ID: id, Queue: "documents", Type: task.Type(), Payload: task.Payload(), State: asynq.TaskStatePending}
	b.tasks[id] = info
	return info, nil
}

func (b *fakeBroker) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	info, ok := b.tasks[id]
	if !ok {
		return nil, asynq.ErrTaskNotFound
	}
	cp := *info
	return &cp, nil
}

func (b *fakeBroker) DeleteTask(queue, id string) error {
	if _, ok := b.tasks[id]; !ok {
		return asynq.ErrTaskNotFound
	}
	delete(b.tasks, id)
	return nil
}

func (b *fakeBroker) CancelProcessing(id string) error {
	b.cancelled = append(b.cancelled, id)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func newTestQueue(b *fakeBroker, status StatusStore) *ExtractionQueue {
	return NewExtractionQueueWith(b, b, status, Config{}, logger.NewTestLogger())
}

var payload = models.ExtractionPayload{DocumentID: "doc-1", PrimaryURL: "https://proxy/doc-1", DirectURL: "https://cdn/doc-1.pdf"}

func TestEnqueueDeduplicatesInFlight(t *testing.T) {
	b := newFakeBroker()
	q := newTestQueue(b, NewMemoryStatusStore())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, &models.EnqueueResult{Queued: true, JobID: "extract:doc-1"}, first)

	b.tasks["extract:doc-1"].State = asynq.TaskStateActive
	second, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, 1, b.enqueued)
}

func TestEnqueueReplacesFinishedJob(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStateCompleted, asynq.TaskStateArchived} {
		b := newFakeBroker()
		q := newTestQueue(b, NewMemoryStatusStore())
		ctx := context.Background()

		_, err := q.Enqueue(ctx, payload)
		require.NoError(t, err)
		b.tasks["extract:doc-1"].State = state

		res, err := q.Enqueue(ctx, payload)
		require.NoError(t, err, state.String())
		assert.False(t, res.Duplicate)
		assert.Equal(t, 2, b.enqueued)
		assert.Equal(t, asynq.TaskStatePending, b.tasks["extract:doc-1"].State)
	}
}

func TestEnqueueBrokerDown(t *testing.T) {
	b := newFakeBroker()
	b.down = true
	_, err := newTestQueue(b, NewMemoryStatusStore()).Enqueue(context.Background(), payload)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestEnqueueConflictLookupFailureIsNotBrokerDown(t *testing.T) {
	b := newFakeBroker()
	q := newTestQueue(b, NewMemoryStatusStore())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)

	// the task exists, so a failed lookup must not let the caller extract inline
	b.lookupErr = errors.New("i/o timeout")
	_, err = q.Enqueue(ctx, payload)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, 1, b.enqueued)
}

func TestGetJobStatus(t *testing.T) {
	b := newFakeBroker()
	status := NewMemoryStatusStore()
	q := newTestQueue(b, status)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)

	st, err := q.GetJobStatus(ctx, "extract:doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, st.State)
	assert.Equal(t, "doc-1", st.DocumentID)
	assert.Equal(t, 1, st.Attempt)

	b.tasks["extract:doc-1"].State = asynq.TaskStateActive
	require.NoError(t, status.Save(ctx, &models.JobStatus{JobID: "extract:doc-1", State: models.JobActive, Progress: 60}))
	st, err = q.GetJobStatus(ctx, "extract:doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobActive, st.State)
	assert.Equal(t, 60, st.Progress)

	result, _ := json.Marshal(models.JobResult{ContentVersion: 2, WordCount: 1200})
	info := b.tasks["extract:doc-1"]
	info.State = asynq.TaskStateCompleted
	info.Result = result
	info.CompletedAt = time.Now()
	st, err = q.GetJobStatus(ctx, "extract:doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, st.State)
	assert.Equal(t, 100, st.Progress)
	require.NotNil(t, st.Result)
	assert.Equal(t, 2, st.Result.ContentVersion)

	info.State = asynq.TaskStateArchived
	info.LastErr = "fetch failed: 404"
	st, err = q.GetJobStatus(ctx, "extract:doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, st.State)
	assert.Equal(t, "fetch failed: 404", st.FailureReason)
}

func TestGetJobStatusAfterPurge(t *testing.T) {
	b := newFakeBroker()
	status := NewMemoryStatusStore()
	q := newTestQueue(b, status)
	ctx := context.Background()

	require.NoError(t, status.Save(ctx, &models.JobStatus{JobID: "extract:old", State: models.JobCompleted, Progress: 100}))
	st, err := q.GetJobStatus(ctx, "extract:old")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, st.State)

	_, err = q.GetJobStatus(ctx, "extract:none")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancel(t *testing.T) {
	b := newFakeBroker()
	status := NewMemoryStatusStore()
	q := newTestQueue(b, status)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, "extract:doc-1"))
	assert.NotContains(t, b.tasks, "extract:doc-1")

	st, err := status.Get(ctx, "extract:doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, st.State)
	assert.Equal(t, "cancelled", st.FailureReason)

	_, err = q.Enqueue(ctx, payload)
	require.NoError(t, err)
	b.tasks["extract:doc-1"].State = asynq.TaskStateActive
	require.NoError(t, q.Cancel(ctx, "extract:doc-1"))
	assert.Equal(t, []string{"extract:doc-1"}, b.cancelled)

	b.tasks["extract:doc-1"].State = asynq.TaskStateCompleted
	assert.ErrorIs(t, q.Cancel(ctx, "extract:doc-1"), ErrJobFinished)
	assert.ErrorIs(t, q.Cancel(ctx, "extract:missing"), ErrJobNotFound)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, models.JobWaiting, StateOf(asynq.TaskStatePending))
	assert.Equal(t, models.JobWaiting, StateOf(asynq.TaskStateScheduled))
	assert.Equal(t, models.JobWaiting, StateOf(asynq.TaskStateRetry))
	assert.Equal(t, models.JobActive, StateOf(asynq.TaskStateActive))
	assert.Equal(t, models.JobCompleted, StateOf(asynq.TaskStateCompleted))
	assert.Equal(t, models.JobFailed, StateOf(asynq.TaskStateArchived))
}

func TestTaskPayload(t *testing.T) {
	task, err := NewExtractionTask(payload, Config{})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeExtraction, task.Type())

	got, err := ParsePayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = ParsePayload(asynq.NewTask(TaskTypeExtraction, []byte(`{"documentId":"x"}`)))
	assert.Error(t, err)
}

func TestRedisStatusStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	s := NewRedisStatusStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &models.JobStatus{JobID: "extract:redis-test", State: models.JobActive, Progress: 40}))
	got, err := s.Get(ctx, "extract:redis-test")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	_, err = s.Get(ctx, "extract:absent")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
