package mapper

import (
	"flowengine/internal/api/handler/response"
	"flowengine/internal/api/models"
)

func ToTaskResponse(task models.Task) response.Task {
	return response.Task{
		TaskID:      task.ID,
		Status:      task.Status,
		Result:      task.Result,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}
}

func ToTaskAccepted(taskID string) response.TaskAccepted {
	return response.TaskAccepted{TaskID: taskID, PollURL: "/api/v1/tasks/" + taskID}
}
