package repo

import (
	"context"

	"flowengine/internal/api/models"

	"gorm.io/gorm"
)

type WorkflowRepository struct {
	Db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{Db: db}
}

// LoadWorkflow fetches a workflow scoped to its organization.
func (slf *WorkflowRepository) LoadWorkflow(ctx context.Context, id uint, organizationID string) (models.Workflow, error) {
	var workflow models.Workflow
	err := slf.Db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		First(&workflow, id).Error
	return workflow, notFound(err, ErrWorkflowNotFound)
}

func (slf *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if err := workflow.Config.Validate(); err != nil {
		return err
	}
	return slf.Db.WithContext(ctx).Create(workflow).Error
}

func (slf *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	if err := workflow.Config.Validate(); err != nil {
		return err
	}
	return slf.Db.WithContext(ctx).Save(workflow).Error
}

// DeleteNode removes a node and its edges from the stored graph.
func (slf *WorkflowRepository) DeleteNode(ctx context.Context, id uint, organizationID, nodeID string) (models.Workflow, error) {
	var workflow models.Workflow
	err := slf.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ?", organizationID).First(&workflow, id).Error; err != nil {
			return notFound(err, ErrWorkflowNotFound)
		}
		if !workflow.Config.DeleteNode(nodeID) {
			return models.ErrNodeNotFound
		}
		return tx.Model(&workflow).Update("config", workflow.Config).Error
	})
	return workflow, err
}

func (slf *WorkflowRepository) Delete(ctx context.Context, id uint, organizationID string) error {
	return slf.Db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Delete(&models.Workflow{}, id).Error
}
