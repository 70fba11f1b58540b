package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/reading-assistant/internal/models"
)

// StatusStore keeps the progress and outcome of jobs for a bounded time.
type StatusStore interface {
	Save(ctx context.Context, status *models.JobStatus) error
	// Get returns ErrJobNotFound for unknown or expired jobs.
	Get(ctx context.Context, jobID string) (*models.JobStatus, error)
}

type RedisStatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusStore(client *redis.Client, ttl time.Duration) *RedisStatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatusStore{client: client, ttl: ttl}
}

func statusKey(jobID string) string {
	return fmt.Sprintf("task_status:%s", jobID)
}

func (s *RedisStatusStore) Save(ctx context.Context, status *models.JobStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(status.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	data, err := s.client.Get(ctx, statusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	var status models.JobStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

// MemoryStatusStore is used for inline extractions and in tests.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]models.JobStatus
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]models.JobStatus)}
}

func (s *MemoryStatusStore) Save(ctx context.Context, status *models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.JobID] = *status
	return nil
}

func (s *MemoryStatusStore) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return &status, nil
}
