package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowengine/internal/api/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	// ErrNoTask is returned by Claim when nothing is pending.
	ErrNoTask = errors.New("no pending task")
	// ErrDuplicate is returned with the id of the task already enqueued under the same dedup key.
	ErrDuplicate = errors.New("duplicate task")
	// ErrLeaseLost means the caller no longer owns the task.
	ErrLeaseLost = errors.New("task lease lost")
)

const (
	DefaultLeaseDuration = 2 * time.Minute
	DefaultDedupTTL      = 48 * time.Hour
	DefaultResultTTL     = 7 * 24 * time.Hour

	leaseExpiredMessage = "worker lease expired"
)

type EnqueueRequest struct {
	WorkflowID     uint
	OrganizationID string
	CreatedByID    string
	TriggerID      *uint
	Input          map[string]any
	// Zero falls back to the queue's default.
	MaxAttempts int
	// Failed runs go back to pending while attempts remain. Without it only
	// an expired lease spends further attempts.
	RetryFailed bool
	// Tasks sharing a key within the dedup window are enqueued once.
	DedupKey string
}

// Queue hands execution requests to workers. A task is claimed by at most one
// worker at a time and stays leased while the worker heartbeats.
type Queue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (string, error)
	Claim(ctx context.Context, workerID string) (*models.Task, error)
	Heartbeat(ctx context.Context, taskID, workerID string) error
	Complete(ctx context.Context, taskID, workerID, executionID string, result any) error
	// Fail marks the task failed, or puts it back to pending when retry is set
	// and attempts remain.
	Fail(ctx context.Context, taskID, workerID, executionID, message string, retry bool) error
	Get(ctx context.Context, taskID string) (models.Task, error)
	// RequeueExpired recovers tasks whose lease ran out.
	RequeueExpired(ctx context.Context, now time.Time) (requeued int, failed int, err error)
}

type Options struct {
	LeaseDuration time.Duration
	MaxAttempts   int
	DedupTTL      time.Duration
	ResultTTL     time.Duration
}

func (slf Options) withDefaults() Options {
	if slf.LeaseDuration <= 0 {
		slf.LeaseDuration = DefaultLeaseDuration
	}
	if slf.MaxAttempts <= 0 {
		slf.MaxAttempts = 1
	}
	if slf.DedupTTL <= 0 {
		slf.DedupTTL = DefaultDedupTTL
	}
	if slf.ResultTTL <= 0 {
		slf.ResultTTL = DefaultResultTTL
	}
	return slf
}

// ScheduleDedupKey identifies one scheduled firing of a trigger.
func ScheduleDedupKey(triggerID uint, scheduled time.Time) string {
	return fmt.Sprintf("trigger:%d:%d", triggerID, scheduled.Unix())
}

func newTask(id string, req EnqueueRequest, maxAttempts int, now time.Time) models.Task {
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}
	return models.Task{
		ID:             id,
		WorkflowID:     req.WorkflowID,
		OrganizationID: req.OrganizationID,
		CreatedByID:    req.CreatedByID,
		TriggerID:      req.TriggerID,
		Input:          req.Input,
		Status:         models.TaskStatusPending,
		MaxAttempts:    maxAttempts,
		RetryFailed:    req.RetryFailed,
		CreatedAt:      now,
	}
}

// The transition helpers below mutate a task in place and are shared by both
// backends so the state machine lives in one spot.

func transition(task *models.Task, to models.TaskStatus) error {
	if !models.CanTransition(task.Status, to) {
		return fmt.Errorf("task %s: cannot move from %s to %s", task.ID, task.Status, to)
	}
	task.Status = to
	return nil
}

func claimTask(task *models.Task, workerID string, now time.Time, lease time.Duration) error {
	if err := transition(task, models.TaskStatusRunning); err != nil {
		return err
	}
	until := now.Add(lease)
	task.WorkerID = workerID
	task.Attempts++
	task.StartedAt = &now
	task.LeaseUntil = &until
	task.Error = ""
	return nil
}

func ownedBy(task *models.Task, workerID string) error {
	if task.Status != models.TaskStatusRunning || task.WorkerID != workerID {
		return ErrLeaseLost
	}
	return nil
}

func completeTask(task *models.Task, executionID string, result any, now time.Time) error {
	if err := transition(task, models.TaskStatusCompleted); err != nil {
		return err
	}
	task.ExecutionID = executionID
	task.Result = result
	task.CompletedAt = &now
	task.LeaseUntil = nil
	return nil
}

// failTask returns true when the task went back to pending.
func failTask(task *models.Task, executionID, message string, retry bool, now time.Time) (bool, error) {
	if executionID != "" {
		task.ExecutionID = executionID
	}
	task.Error = message
	task.LeaseUntil = nil
	if retry && task.Attempts < task.MaxAttempts {
		if err := transition(task, models.TaskStatusPending); err != nil {
			return false, err
		}
		task.WorkerID = ""
		return true, nil
	}
	if err := transition(task, models.TaskStatusFailed); err != nil {
		return false, err
	}
	task.CompletedAt = &now
	return false, nil
}
