package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/api/repo"
	"flowengine/internal/engine"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrWorkflowInactive = errors.New("workflow is not active")

type WorkflowStore interface {
	LoadWorkflow(ctx context.Context, id uint, organizationID string) (models.Workflow, error)
	DeleteNode(ctx context.Context, id uint, organizationID, nodeID string) (models.Workflow, error)
}

type ExecutionStore interface {
	Create(ctx context.Context, execution *models.Execution) error
	Save(ctx context.Context, execution *models.Execution) error
	FindByID(ctx context.Context, id string) (models.Execution, error)
	FindByTaskID(ctx context.Context, taskID string) (models.Execution, error)
	FindRecentByWorkflow(ctx context.Context, workflowID uint, organizationID string, limit int) ([]models.Execution, error)
}

type ExecuteRequest struct {
	WorkflowID     uint
	OrganizationID string
	ActorID        string
	Input          map[string]any
	// Set when the run comes from the queue or a trigger.
	TaskID    string
	TriggerID *uint
}

type WorkflowService struct {
	workflows  WorkflowStore
	executions ExecutionStore
	engine     *engine.Engine
	logger     zerolog.Logger
}

func NewWorkflowService(workflows WorkflowStore, executions ExecutionStore, eng *engine.Engine, logger zerolog.Logger) *WorkflowService {
	return &WorkflowService{
		workflows:  workflows,
		executions: executions,
		engine:     eng,
		logger:     logger,
	}
}

// ExecuteWorkflow runs the current version of a workflow to completion and
// persists the run record. Node failures and engine faults come back in the
// result; the error is reserved for load and storage problems.
func (slf *WorkflowService) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (models.ExecutionResult, error) {
	workflow, err := slf.LoadRunnable(ctx, req.WorkflowID, req.OrganizationID)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	input, err := models.NewJSONData(req.Input)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	execution := &models.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     workflow.ID,
		OrganizationID: req.OrganizationID,
		ActorID:        req.ActorID,
		TaskID:         req.TaskID,
		TriggerID:      req.TriggerID,
		Status:         models.RunStatusRunning,
		Input:          input,
		StartedAt:      time.Now(),
	}
	if err := slf.executions.Create(ctx, execution); err != nil {
		slf.logger.Error().Err(err).Uint("workflowId", workflow.ID).Msg("Error creating execution record")
		return models.ExecutionResult{}, fmt.Errorf("%w: create execution: %v", engine.ErrStorage, err)
	}

	log := slf.logger.With().Str("executionId", execution.ID).Uint("workflowId", workflow.ID).Logger()
	log.Info().Int("nodes", len(workflow.Config.Nodes)).Msg("Executing workflow")

	result, runErr := slf.engine.Run(ctx, engine.RunRequest{
		Run: engine.RunInfo{
			ExecutionID:    execution.ID,
			WorkflowID:     workflow.ID,
			OrganizationID: req.OrganizationID,
			ActorID:        req.ActorID,
			TaskID:         req.TaskID,
		},
		Config: workflow.Config,
		Input:  req.Input,
	})
	if runErr != nil {
		log.Warn().Err(runErr).Msg("Workflow run aborted")
	}

	if err := applyResult(execution, result); err != nil {
		log.Error().Err(err).Msg("Error encoding run result")
		execution.Status = models.RunStatusFailed
		execution.Error = err.Error()
		execution.ErrorKind = models.ErrorKindFault
		execution.Output, execution.NodeOutputs = nil, nil
	}

	// The caller's context may already be done; the record must still land.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := slf.executions.Save(saveCtx, execution); err != nil {
		log.Error().Err(err).Msg("Error saving execution record")
		return toExecutionResult(execution, result), fmt.Errorf("%w: save execution: %v", engine.ErrStorage, err)
	}

	log.Info().Str("status", string(execution.Status)).Int64("durationMs", execution.DurationMs).Int64("totalTokens", execution.TotalTokens).Msg("Workflow finished")
	return toExecutionResult(execution, result), nil
}

// LoadRunnable loads a workflow of the organization and rejects inactive ones
func (slf *WorkflowService) LoadRunnable(ctx context.Context, id uint, organizationID string) (models.Workflow, error) {
	workflow, err := slf.workflows.LoadWorkflow(ctx, id, organizationID)
	if err != nil {
		if !errors.Is(err, repo.ErrWorkflowNotFound) {
			slf.logger.Error().Err(err).Uint("workflowId", id).Msg("Error loading workflow")
		}
		return models.Workflow{}, err
	}
	if !workflow.Active {
		return models.Workflow{}, ErrWorkflowInactive
	}
	return workflow, nil
}

// GetExecution returns a stored run record visible to the organization
func (slf *WorkflowService) GetExecution(ctx context.Context, id, organizationID string) (models.Execution, error) {
	execution, err := slf.executions.FindByID(ctx, id)
	if err != nil {
		return models.Execution{}, err
	}
	if execution.OrganizationID != organizationID {
		return models.Execution{}, repo.ErrExecutionNotFound
	}
	return execution, nil
}

// ListExecutions returns the latest runs of a workflow
func (slf *WorkflowService) ListExecutions(ctx context.Context, workflowID uint, organizationID string, limit int) ([]models.Execution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return slf.executions.FindRecentByWorkflow(ctx, workflowID, organizationID, limit)
}

// DeleteNode removes a node together with every edge touching it
func (slf *WorkflowService) DeleteNode(ctx context.Context, workflowID uint, organizationID, nodeID string) (models.Workflow, error) {
	workflow, err := slf.workflows.DeleteNode(ctx, workflowID, organizationID, nodeID)
	if err != nil {
		return models.Workflow{}, err
	}
	slf.logger.Info().Uint("workflowId", workflowID).Str("nodeId", nodeID).Msg("Node deleted")
	return workflow, nil
}

func applyResult(execution *models.Execution, result engine.RunResult) error {
	output, err := models.NewJSONData(result.Output)
	if err != nil {
		return err
	}
	nodeOutputs, err := models.NewJSONData(result.Outputs)
	if err != nil {
		return err
	}
	completedAt := result.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	execution.Status = result.Status
	execution.Output = output
	execution.NodeOutputs = nodeOutputs
	execution.Error = result.Error
	execution.ErrorKind = result.ErrorKind
	execution.FailedNodeID = result.FailedNodeID
	execution.TotalTokens = result.TotalTokens
	execution.DurationMs = result.Duration.Milliseconds()
	execution.CompletedAt = &completedAt
	return nil
}

func toExecutionResult(execution *models.Execution, result engine.RunResult) models.ExecutionResult {
	return models.ExecutionResult{
		Status:      execution.Status,
		ExecutionID: execution.ID,
		Output:      result.Output,
		Error:       execution.Error,
		ErrorKind:   execution.ErrorKind,
		Duration:    result.Duration,
		TotalTokens: execution.TotalTokens,
		NodeOutputs: result.Outputs,
	}
}
