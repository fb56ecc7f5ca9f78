package request

import "flowengine/internal/api/models"

// CreateTrigger is the request for creating a new trigger
type CreateTrigger struct {
	Name           string               `json:"name" validate:"required"`
	Description    string               `json:"description"`
	Type           models.TriggerType   `json:"type" validate:"required,oneof=WEBHOOK SCHEDULE"`
	WorkflowID     uint                 `json:"workflowId" validate:"required"`
	CronExpression string               `json:"cronExpression"`
	WebhookPath    string               `json:"webhookPath" validate:"omitempty,max=128"`
	WebhookSecret  string               `json:"webhookSecret"`
	InputTemplate  models.JSONData      `json:"inputTemplate"`
	RetryOnFail    bool                 `json:"retryOnFail"`
	MaxRetries     int                  `json:"maxRetries" validate:"gte=0,lte=10"`
	Config         models.TriggerConfig `json:"config"`
}

// UpdateTrigger is the request for updating a trigger
type UpdateTrigger struct {
	Name           *string               `json:"name,omitempty"`
	Description    *string               `json:"description,omitempty"`
	CronExpression *string               `json:"cronExpression,omitempty"`
	WebhookPath    *string               `json:"webhookPath,omitempty" validate:"omitempty,max=128"`
	WebhookSecret  *string               `json:"webhookSecret,omitempty"`
	InputTemplate  *models.JSONData      `json:"inputTemplate,omitempty"`
	RetryOnFail    *bool                 `json:"retryOnFail,omitempty"`
	MaxRetries     *int                  `json:"maxRetries,omitempty" validate:"omitempty,gte=0,lte=10"`
	Config         *models.TriggerConfig `json:"config,omitempty"`
}
