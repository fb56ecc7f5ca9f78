package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/scheduler"

	"github.com/rs/zerolog"
)

var (
	ErrWebhookUnauthorized = errors.New("webhook rejected")
	ErrInvalidWebhookBody  = errors.New("invalid webhook body")

	errRequiredHeader = errors.New("required webhook header missing")
)

type WebhookTriggerStore interface {
	FindByWebhookPath(ctx context.Context, path string) (models.Trigger, error)
	CreateLog(ctx context.Context, log *models.TriggerLog) error
}

// WebhookRecorder counts webhook outcomes.
type WebhookRecorder interface {
	IncTriggerFired(triggerType, outcome string)
	IncWebhookRejected(reason string)
}

type WebhookRequest struct {
	Path   string
	Header http.Header
	Body   []byte
}

// webhookBody is the accepted payload. Async defaults to true.
type webhookBody struct {
	Input map[string]any `json:"input"`
	Async *bool          `json:"async"`
}

type WebhookResponse struct {
	Async  bool
	TaskID string
	Result *models.ExecutionResult
}

type WebhookService struct {
	triggers  WebhookTriggerStore
	tasks     *TaskService
	workflows *WorkflowService
	recorder  WebhookRecorder
	tolerance time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewWebhookService(triggers WebhookTriggerStore, tasks *TaskService, workflows *WorkflowService, recorder WebhookRecorder, tolerance time.Duration, logger zerolog.Logger) *WebhookService {
	return &WebhookService{
		triggers:  triggers,
		tasks:     tasks,
		workflows: workflows,
		recorder:  recorder,
		tolerance: tolerance,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle verifies a webhook call and either queues the run or executes it inline.
func (slf *WebhookService) Handle(ctx context.Context, req WebhookRequest) (WebhookResponse, error) {
	trigger, err := slf.triggers.FindByWebhookPath(ctx, req.Path)
	if err != nil {
		return WebhookResponse{}, err
	}
	log := slf.logger.With().Uint("triggerId", trigger.ID).Str("path", req.Path).Logger()
	now := slf.now()

	if err := slf.authorize(trigger, req, now); err != nil {
		reason := scheduler.RejectReason(err)
		if errors.Is(err, errRequiredHeader) {
			reason = "header"
		}
		log.Warn().Err(err).Str("reason", reason).Msg("Webhook rejected")
		slf.recordRejected(reason)
		slf.writeLog(ctx, &models.TriggerLog{
			TriggerID:  trigger.ID,
			Source:     "webhook",
			StartedAt:  now,
			FinishedAt: &now,
			Status:     models.TriggerLogStatusRejected,
			Error:      err.Error(),
		})
		return WebhookResponse{}, fmt.Errorf("%w: %v", ErrWebhookUnauthorized, err)
	}

	body, err := parseWebhookBody(req.Body)
	if err != nil {
		return WebhookResponse{}, err
	}
	input, err := scheduler.TriggerInput(trigger, nil, body.Input)
	if err != nil {
		return WebhookResponse{}, err
	}

	entry := &models.TriggerLog{TriggerID: trigger.ID, Source: "webhook", StartedAt: now}

	if body.Async == nil || *body.Async {
		taskID, err := slf.tasks.Enqueue(ctx, scheduler.TaskRequest(trigger, input))
		if err != nil {
			slf.recordFired(trigger, models.TriggerLogStatusFailed)
			return WebhookResponse{}, err
		}
		entry.TaskID = taskID
		entry.Status = models.TriggerLogStatusEnqueued
		slf.writeLog(ctx, entry)
		slf.recordFired(trigger, entry.Status)
		log.Info().Str("taskId", taskID).Msg("Webhook run enqueued")
		return WebhookResponse{Async: true, TaskID: taskID}, nil
	}

	triggerID := trigger.ID
	result, err := slf.workflows.ExecuteWorkflow(ctx, ExecuteRequest{
		WorkflowID:     trigger.WorkflowID,
		OrganizationID: trigger.OrganizationID,
		ActorID:        trigger.CreatorID,
		Input:          input,
		TriggerID:      &triggerID,
	})
	finished := slf.now()
	entry.FinishedAt = &finished
	entry.ExecutionID = result.ExecutionID
	switch {
	case err != nil:
		entry.Status = models.TriggerLogStatusFailed
		entry.Error = err.Error()
	case result.Status != models.RunStatusCompleted:
		entry.Status = models.TriggerLogStatusFailed
		entry.Error = result.Error
	default:
		entry.Status = models.TriggerLogStatusCompleted
	}
	slf.writeLog(ctx, entry)
	slf.recordFired(trigger, entry.Status)
	if err != nil {
		return WebhookResponse{}, err
	}
	return WebhookResponse{Result: &result}, nil
}

func (slf *WebhookService) authorize(trigger models.Trigger, req WebhookRequest, now time.Time) error {
	if err := scheduler.VerifyWebhook(trigger.WebhookSecret, req.Header.Get(scheduler.SignatureHeader), req.Body, now, slf.tolerance); err != nil {
		return err
	}
	if trigger.Config.Webhook != nil {
		for name, want := range trigger.Config.Webhook.RequiredHeaders {
			if req.Header.Get(name) != want {
				return fmt.Errorf("%w: %s", errRequiredHeader, name)
			}
		}
	}
	return nil
}

func parseWebhookBody(raw []byte) (webhookBody, error) {
	var body webhookBody
	if len(bytes.TrimSpace(raw)) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, fmt.Errorf("%w: %v", ErrInvalidWebhookBody, err)
	}
	return body, nil
}

func (slf *WebhookService) writeLog(ctx context.Context, entry *models.TriggerLog) {
	if err := slf.triggers.CreateLog(context.WithoutCancel(ctx), entry); err != nil {
		slf.logger.Warn().Err(err).Uint("triggerId", entry.TriggerID).Msg("Error writing trigger log")
	}
}

func (slf *WebhookService) recordRejected(reason string) {
	if slf.recorder != nil {
		slf.recorder.IncWebhookRejected(reason)
	}
}

func (slf *WebhookService) recordFired(trigger models.Trigger, outcome models.TriggerLogStatus) {
	if slf.recorder != nil {
		slf.recorder.IncTriggerFired(string(trigger.Type), string(outcome))
	}
}
