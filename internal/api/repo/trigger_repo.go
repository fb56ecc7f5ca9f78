package repo

import (
	"context"
	"time"

	"flowengine/internal/api/models"

	"gorm.io/gorm"
)

type TriggerRepository struct {
	Db *gorm.DB
}

func NewTriggerRepository(db *gorm.DB) *TriggerRepository {
	return &TriggerRepository{Db: db}
}

// FindByID retrieves a trigger by ID
func (slf *TriggerRepository) FindByID(ctx context.Context, id uint) (models.Trigger, error) {
	var trigger models.Trigger
	err := slf.Db.WithContext(ctx).First(&trigger, id).Error
	return trigger, notFound(err, ErrTriggerNotFound)
}

// FindByWebhookPath retrieves the enabled webhook trigger bound to path
func (slf *TriggerRepository) FindByWebhookPath(ctx context.Context, path string) (models.Trigger, error) {
	var trigger models.Trigger
	err := slf.Db.WithContext(ctx).
		Where("webhook_path = ? AND type = ? AND enabled = ?", path, models.TriggerTypeWebhook, true).
		First(&trigger).Error
	return trigger, notFound(err, ErrTriggerNotFound)
}

// FindEnabledByType retrieves all enabled triggers of a specific type
func (slf *TriggerRepository) FindEnabledByType(ctx context.Context, triggerType models.TriggerType) ([]models.Trigger, error) {
	var triggers []models.Trigger
	err := slf.Db.WithContext(ctx).
		Where("enabled = ? AND type = ?", true, triggerType).
		Order("id").
		Find(&triggers).Error
	return triggers, err
}

// FindAllByOrganization retrieves all triggers of an organization
func (slf *TriggerRepository) FindAllByOrganization(ctx context.Context, organizationID string) ([]models.Trigger, error) {
	var triggers []models.Trigger
	err := slf.Db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Find(&triggers).Error
	return triggers, err
}

// Create creates a new trigger
func (slf *TriggerRepository) Create(ctx context.Context, trigger *models.Trigger) error {
	return slf.Db.WithContext(ctx).Create(trigger).Error
}

// Update updates an existing trigger
func (slf *TriggerRepository) Update(ctx context.Context, trigger *models.Trigger) error {
	return slf.Db.WithContext(ctx).Save(trigger).Error
}

// MarkFired records the last scheduled instant that produced a task and the
// error of the last attempt, if any
func (slf *TriggerRepository) MarkFired(ctx context.Context, id uint, firedAt *time.Time, lastError string) error {
	updates := map[string]interface{}{"last_error": lastError}
	if firedAt != nil {
		updates["last_fired_at"] = *firedAt
	}
	return slf.Db.WithContext(ctx).Model(&models.Trigger{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete soft-deletes a trigger
func (slf *TriggerRepository) Delete(ctx context.Context, id uint) error {
	return slf.Db.WithContext(ctx).Delete(&models.Trigger{}, id).Error
}

// CreateLog records one firing
func (slf *TriggerRepository) CreateLog(ctx context.Context, log *models.TriggerLog) error {
	return slf.Db.WithContext(ctx).Create(log).Error
}

// FinishLogByTask closes the firing that produced taskID once its run ends
func (slf *TriggerRepository) FinishLogByTask(ctx context.Context, taskID string, status models.TriggerLogStatus, executionID, errMsg string) error {
	if taskID == "" {
		return nil
	}
	now := time.Now()
	return slf.Db.WithContext(ctx).Model(&models.TriggerLog{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"status":       status,
			"execution_id": executionID,
			"error":        errMsg,
			"finished_at":  now,
		}).Error
}

// GetRecentLogs retrieves recent firings for a trigger
func (slf *TriggerRepository) GetRecentLogs(ctx context.Context, triggerID uint, limit int) ([]models.TriggerLog, error) {
	var logs []models.TriggerLog
	err := slf.Db.WithContext(ctx).
		Where("trigger_id = ?", triggerID).
		Order("started_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
