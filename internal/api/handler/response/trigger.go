package response

import (
	"time"

	"flowengine/internal/api/models"
)

// Trigger is the response for a trigger. The webhook secret is never echoed.
type Trigger struct {
	ID             uint                 `json:"id"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	Type           models.TriggerType   `json:"type"`
	WorkflowID     uint                 `json:"workflowId"`
	CreatorID      string               `json:"creatorId"`
	Enabled        bool                 `json:"enabled"`
	CronExpression string               `json:"cronExpression,omitempty"`
	WebhookPath    string               `json:"webhookPath,omitempty"`
	WebhookURL     string               `json:"webhookUrl,omitempty"`
	Signed         bool                 `json:"signed"`
	InputTemplate  models.JSONData      `json:"inputTemplate,omitempty"`
	RetryOnFail    bool                 `json:"retryOnFail"`
	MaxRetries     int                  `json:"maxRetries"`
	LastFiredAt    *time.Time           `json:"lastFiredAt,omitempty"`
	LastError      string               `json:"lastError,omitempty"`
	Config         models.TriggerConfig `json:"config"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}
