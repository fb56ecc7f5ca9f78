package response

import (
	"time"

	"flowengine/internal/api/models"
)

// Task is the polling view of a queued run
type Task struct {
	TaskID      string            `json:"taskId"`
	Status      models.TaskStatus `json:"status"`
	Result      any               `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// TaskAccepted answers a queued run
type TaskAccepted struct {
	TaskID  string `json:"taskId"`
	PollURL string `json:"pollUrl"`
}
