package queue

import (
	"context"
	"sync"
	"time"

	"flowengine/internal/api/models"

	"github.com/google/uuid"
)

type dedupEntry struct {
	taskID  string
	expires time.Time
}

// MemoryQueue is the single-process backend used when Redis is not configured.
type MemoryQueue struct {
	mu      sync.Mutex
	options Options
	tasks   map[string]*models.Task
	pending []string
	dedup   map[string]dedupEntry
	now     func() time.Time
}

func NewMemoryQueue(options Options) *MemoryQueue {
	return &MemoryQueue{
		options: options.withDefaults(),
		tasks:   map[string]*models.Task{},
		dedup:   map[string]dedupEntry{},
		now:     time.Now,
	}
}

func (slf *MemoryQueue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	slf.mu.Lock()
	defer slf.mu.Unlock()

	now := slf.now()
	if req.DedupKey != "" {
		if entry, ok := slf.dedup[req.DedupKey]; ok && now.Before(entry.expires) {
			return entry.taskID, ErrDuplicate
		}
	}

	task := newTask(uuid.NewString(), req, slf.options.MaxAttempts, now)
	slf.tasks[task.ID] = &task
	slf.pending = append(slf.pending, task.ID)
	if req.DedupKey != "" {
		slf.dedup[req.DedupKey] = dedupEntry{taskID: task.ID, expires: now.Add(slf.options.DedupTTL)}
	}
	return task.ID, nil
}

func (slf *MemoryQueue) Claim(ctx context.Context, workerID string) (*models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slf.mu.Lock()
	defer slf.mu.Unlock()

	for len(slf.pending) > 0 {
		id := slf.pending[0]
		slf.pending = slf.pending[1:]
		task, ok := slf.tasks[id]
		if !ok || task.Status != models.TaskStatusPending {
			continue
		}
		if err := claimTask(task, workerID, slf.now(), slf.options.LeaseDuration); err != nil {
			return nil, err
		}
		claimed := *task
		return &claimed, nil
	}
	return nil, ErrNoTask
}

func (slf *MemoryQueue) Heartbeat(ctx context.Context, taskID, workerID string) error {
	slf.mu.Lock()
	defer slf.mu.Unlock()

	task, ok := slf.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if err := ownedBy(task, workerID); err != nil {
		return err
	}
	until := slf.now().Add(slf.options.LeaseDuration)
	task.LeaseUntil = &until
	return nil
}

func (slf *MemoryQueue) Complete(ctx context.Context, taskID, workerID, executionID string, result any) error {
	slf.mu.Lock()
	defer slf.mu.Unlock()

	task, ok := slf.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if err := ownedBy(task, workerID); err != nil {
		return err
	}
	return completeTask(task, executionID, result, slf.now())
}

func (slf *MemoryQueue) Fail(ctx context.Context, taskID, workerID, executionID, message string, retry bool) error {
	slf.mu.Lock()
	defer slf.mu.Unlock()

	task, ok := slf.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if err := ownedBy(task, workerID); err != nil {
		return err
	}
	requeued, err := failTask(task, executionID, message, retry, slf.now())
	if err != nil {
		return err
	}
	if requeued {
		slf.pending = append(slf.pending, task.ID)
	}
	return nil
}

func (slf *MemoryQueue) Get(ctx context.Context, taskID string) (models.Task, error) {
	slf.mu.Lock()
	defer slf.mu.Unlock()

	task, ok := slf.tasks[taskID]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return *task, nil
}

func (slf *MemoryQueue) RequeueExpired(ctx context.Context, now time.Time) (int, int, error) {
	slf.mu.Lock()
	defer slf.mu.Unlock()

	requeued, failed := 0, 0
	for _, task := range slf.tasks {
		if task.Status != models.TaskStatusRunning || task.LeaseUntil == nil || task.LeaseUntil.After(now) {
			continue
		}
		back, err := failTask(task, "", leaseExpiredMessage, true, now)
		if err != nil {
			return requeued, failed, err
		}
		if back {
			slf.pending = append(slf.pending, task.ID)
			requeued++
		} else {
			failed++
		}
	}
	for key, entry := range slf.dedup {
		if !now.Before(entry.expires) {
			delete(slf.dedup, key)
		}
	}
	return requeued, failed, nil
}
