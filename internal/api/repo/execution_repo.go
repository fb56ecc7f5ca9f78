package repo

import (
	"context"

	"flowengine/internal/api/models"

	"gorm.io/gorm"
)

type ExecutionRepository struct {
	Db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{Db: db}
}

// Create inserts the run record when a run starts.
func (slf *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	return slf.Db.WithContext(ctx).Create(execution).Error
}

// Save stores the final state of a run.
func (slf *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	return slf.Db.WithContext(ctx).Save(execution).Error
}

func (slf *ExecutionRepository) FindByID(ctx context.Context, id string) (models.Execution, error) {
	var execution models.Execution
	err := slf.Db.WithContext(ctx).Where("id = ?", id).First(&execution).Error
	return execution, notFound(err, ErrExecutionNotFound)
}

// FindByTaskID returns the latest run of a queued task.
func (slf *ExecutionRepository) FindByTaskID(ctx context.Context, taskID string) (models.Execution, error) {
	var execution models.Execution
	err := slf.Db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at DESC").
		First(&execution).Error
	return execution, notFound(err, ErrExecutionNotFound)
}

func (slf *ExecutionRepository) FindRecentByWorkflow(ctx context.Context, workflowID uint, organizationID string, limit int) ([]models.Execution, error) {
	var executions []models.Execution
	err := slf.Db.WithContext(ctx).
		Where("workflow_id = ? AND organization_id = ?", workflowID, organizationID).
		Order("started_at DESC").
		Limit(limit).
		Find(&executions).Error
	return executions, err
}
