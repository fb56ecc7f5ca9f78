package mapper

import (
	"strings"

	"flowengine/internal/api/handler/request"
	"flowengine/internal/api/handler/response"
	"flowengine/internal/api/models"
)

// TriggerMapper handles mapping between trigger models and DTOs
type TriggerMapper interface {
	CreateTrigger(req request.CreateTrigger, organizationID, creatorID string) models.Trigger
	PatchTrigger(trigger *models.Trigger, req request.UpdateTrigger)
	ToTriggerResponse(t models.Trigger) response.Trigger
	ToTriggerResponses(triggers []models.Trigger) []response.Trigger
}

type TriggerMapperImpl struct {
	webhookBaseURL string
}

// NewTriggerMapper creates a TriggerMapper. baseURL prefixes webhook URLs in responses.
func NewTriggerMapper(baseURL string) TriggerMapper {
	return &TriggerMapperImpl{webhookBaseURL: strings.TrimRight(baseURL, "/") + "/api/v1/webhooks/"}
}

func (m *TriggerMapperImpl) CreateTrigger(req request.CreateTrigger, organizationID, creatorID string) models.Trigger {
	return models.Trigger{
		Name:           req.Name,
		Description:    req.Description,
		Type:           req.Type,
		WorkflowID:     req.WorkflowID,
		OrganizationID: organizationID,
		CreatorID:      creatorID,
		CronExpression: req.CronExpression,
		WebhookPath:    req.WebhookPath,
		WebhookSecret:  req.WebhookSecret,
		InputTemplate:  req.InputTemplate,
		RetryOnFail:    req.RetryOnFail,
		MaxRetries:     req.MaxRetries,
		Config:         req.Config,
	}
}

// PatchTrigger applies the fields present in req
func (m *TriggerMapperImpl) PatchTrigger(trigger *models.Trigger, req request.UpdateTrigger) {
	if req.Name != nil {
		trigger.Name = *req.Name
	}
	if req.Description != nil {
		trigger.Description = *req.Description
	}
	if req.CronExpression != nil {
		trigger.CronExpression = *req.CronExpression
	}
	if req.WebhookPath != nil {
		trigger.WebhookPath = *req.WebhookPath
	}
	if req.WebhookSecret != nil {
		trigger.WebhookSecret = *req.WebhookSecret
	}
	if req.InputTemplate != nil {
		trigger.InputTemplate = *req.InputTemplate
	}
	if req.RetryOnFail != nil {
		trigger.RetryOnFail = *req.RetryOnFail
	}
	if req.MaxRetries != nil {
		trigger.MaxRetries = *req.MaxRetries
	}
	if req.Config != nil {
		trigger.Config = *req.Config
	}
}

func (m *TriggerMapperImpl) ToTriggerResponse(t models.Trigger) response.Trigger {
	out := response.Trigger{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Type:           t.Type,
		WorkflowID:     t.WorkflowID,
		CreatorID:      t.CreatorID,
		Enabled:        t.Enabled,
		CronExpression: t.CronExpression,
		WebhookPath:    t.WebhookPath,
		Signed:         t.WebhookSecret != "",
		InputTemplate:  t.InputTemplate,
		RetryOnFail:    t.RetryOnFail,
		MaxRetries:     t.MaxRetries,
		LastFiredAt:    t.LastFiredAt,
		LastError:      t.LastError,
		Config:         t.Config,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if t.Type == models.TriggerTypeWebhook && t.WebhookPath != "" {
		out.WebhookURL = m.webhookBaseURL + t.WebhookPath
	}
	return out
}

func (m *TriggerMapperImpl) ToTriggerResponses(triggers []models.Trigger) []response.Trigger {
	responses := make([]response.Trigger, len(triggers))
	for i, t := range triggers {
		responses[i] = m.ToTriggerResponse(t)
	}
	return responses
}
