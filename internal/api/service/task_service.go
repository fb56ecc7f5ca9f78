package service

import (
	"context"
	"errors"

	"flowengine/internal/api/models"
	"flowengine/internal/api/repo"
	"flowengine/internal/queue"

	"github.com/rs/zerolog"
)

// TriggerLogStore closes trigger firings once their task ends.
type TriggerLogStore interface {
	FinishLogByTask(ctx context.Context, taskID string, status models.TriggerLogStatus, executionID, errMsg string) error
}

type TaskService struct {
	queue      queue.Queue
	workflows  *WorkflowService
	executions ExecutionStore
	triggers   TriggerLogStore
	logger     zerolog.Logger
}

func NewTaskService(q queue.Queue, workflows *WorkflowService, executions ExecutionStore, triggers TriggerLogStore, logger zerolog.Logger) *TaskService {
	return &TaskService{
		queue:      q,
		workflows:  workflows,
		executions: executions,
		triggers:   triggers,
		logger:     logger,
	}
}

// Enqueue queues an asynchronous run and returns the task id
func (slf *TaskService) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	id, err := slf.queue.Enqueue(ctx, req)
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		slf.logger.Error().Err(err).Uint("workflowId", req.WorkflowID).Msg("Error enqueuing task")
		return "", err
	}
	slf.logger.Info().Str("taskId", id).Uint("workflowId", req.WorkflowID).Msg("Task enqueued")
	return id, err
}

// EnqueueWorkflow queues a run requested directly by a user
func (slf *TaskService) EnqueueWorkflow(ctx context.Context, workflowID uint, organizationID, actorID string, input map[string]any) (string, error) {
	if _, err := slf.workflows.LoadRunnable(ctx, workflowID, organizationID); err != nil {
		return "", err
	}
	return slf.Enqueue(ctx, queue.EnqueueRequest{
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
		CreatedByID:    actorID,
		Input:          input,
	})
}

// GetTask returns a task visible to the organization
func (slf *TaskService) GetTask(ctx context.Context, id, organizationID string) (models.Task, error) {
	task, err := slf.queue.Get(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if organizationID != "" && task.OrganizationID != organizationID {
		return models.Task{}, queue.ErrTaskNotFound
	}
	return task, nil
}

// GetTaskWithDetails pairs a task with the run it produced, if any
func (slf *TaskService) GetTaskWithDetails(ctx context.Context, id, organizationID string) (models.TaskDetails, error) {
	task, err := slf.GetTask(ctx, id, organizationID)
	if err != nil {
		return models.TaskDetails{}, err
	}
	details := models.TaskDetails{Task: task}

	var execution models.Execution
	if task.ExecutionID != "" {
		execution, err = slf.executions.FindByID(ctx, task.ExecutionID)
	} else {
		execution, err = slf.executions.FindByTaskID(ctx, task.ID)
	}
	switch {
	case err == nil:
		details.Execution = &execution
	case errors.Is(err, repo.ErrExecutionNotFound):
	default:
		slf.logger.Error().Err(err).Str("taskId", id).Msg("Error loading task execution")
		return models.TaskDetails{}, err
	}
	return details, nil
}

// Execute runs a claimed task for the worker pool
func (slf *TaskService) Execute(ctx context.Context, task models.Task) (queue.Outcome, error) {
	result, err := slf.workflows.ExecuteWorkflow(ctx, ExecuteRequest{
		WorkflowID:     task.WorkflowID,
		OrganizationID: task.OrganizationID,
		ActorID:        task.CreatedByID,
		Input:          task.Input,
		TaskID:         task.ID,
		TriggerID:      task.TriggerID,
	})
	if err != nil {
		slf.finishTriggerLog(task, models.TriggerLogStatusFailed, result.ExecutionID, err.Error())
		return queue.Outcome{ExecutionID: result.ExecutionID}, err
	}

	if result.Status != models.RunStatusCompleted {
		slf.finishTriggerLog(task, models.TriggerLogStatusFailed, result.ExecutionID, result.Error)
		return queue.Outcome{ExecutionID: result.ExecutionID, Failed: true, Error: result.Error}, nil
	}
	slf.finishTriggerLog(task, models.TriggerLogStatusCompleted, result.ExecutionID, "")
	return queue.Outcome{ExecutionID: result.ExecutionID, Output: result.Output}, nil
}

func (slf *TaskService) finishTriggerLog(task models.Task, status models.TriggerLogStatus, executionID, errMsg string) {
	if task.TriggerID == nil || slf.triggers == nil {
		return
	}
	if err := slf.triggers.FinishLogByTask(context.Background(), task.ID, status, executionID, errMsg); err != nil {
		slf.logger.Warn().Err(err).Str("taskId", task.ID).Msg("Error updating trigger log")
	}
}
