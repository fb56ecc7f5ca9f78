package models

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// running -> pending only happens when an expired lease is requeued.
var allowedTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusRunning: true,
		TaskStatusFailed:  true,
	},
	TaskStatusRunning: {
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusPending:   true,
	},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	return allowedTaskTransitions[from][to]
}

// Task is one queued execution request.
type Task struct {
	ID             string         `json:"id"`
	WorkflowID     uint           `json:"workflowId"`
	OrganizationID string         `json:"organizationId"`
	CreatedByID    string         `json:"createdById"`
	TriggerID      *uint          `json:"triggerId,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Status         TaskStatus     `json:"status"`
	Result         any            `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	ExecutionID    string         `json:"executionId,omitempty"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"maxAttempts"`
	RetryFailed    bool           `json:"retryFailed,omitempty"`
	WorkerID       string         `json:"workerId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	LeaseUntil     *time.Time     `json:"leaseUntil,omitempty"`
}

// TaskDetails pairs a task with its run record when one exists.
type TaskDetails struct {
	Task      Task       `json:"task"`
	Execution *Execution `json:"execution,omitempty"`
}
