package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/api/repo"
	"flowengine/internal/scheduler"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

var webhookPathPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type TriggerService struct {
	triggerRepo *repo.TriggerRepository
	workflows   WorkflowStore
	logger      zerolog.Logger
	now         func() time.Time
}

func NewTriggerService(triggerRepo *repo.TriggerRepository, workflows WorkflowStore, logger zerolog.Logger) *TriggerService {
	return &TriggerService{
		triggerRepo: triggerRepo,
		workflows:   workflows,
		logger:      logger,
		now:         time.Now,
	}
}

// FindAll retrieves all triggers of an organization
func (slf *TriggerService) FindAll(ctx context.Context, organizationID string) ([]models.Trigger, error) {
	triggers, err := slf.triggerRepo.FindAllByOrganization(ctx, organizationID)
	if err != nil {
		slf.logger.Error().Err(err).Str("organizationId", organizationID).Msg("Error getting triggers")
		return nil, err
	}
	return triggers, nil
}

// FindByID retrieves a trigger visible to the organization
func (slf *TriggerService) FindByID(ctx context.Context, id uint, organizationID string) (models.Trigger, error) {
	trigger, err := slf.triggerRepo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repo.ErrTriggerNotFound) {
			slf.logger.Error().Err(err).Uint("triggerId", id).Msg("Error getting trigger")
		}
		return models.Trigger{}, err
	}
	if trigger.OrganizationID != organizationID {
		return models.Trigger{}, repo.ErrTriggerNotFound
	}
	return trigger, nil
}

// Create stores a new trigger. Triggers start disabled until activated.
func (slf *TriggerService) Create(ctx context.Context, trigger models.Trigger) (models.Trigger, error) {
	if _, err := slf.workflows.LoadWorkflow(ctx, trigger.WorkflowID, trigger.OrganizationID); err != nil {
		return models.Trigger{}, err
	}
	if trigger.Type == models.TriggerTypeWebhook && trigger.WebhookPath == "" {
		trigger.WebhookPath = uuid.NewString()
	}
	if err := validateTrigger(&trigger); err != nil {
		return models.Trigger{}, err
	}
	trigger.Enabled = false

	if err := slf.triggerRepo.Create(ctx, &trigger); err != nil {
		slf.logger.Error().Err(err).Msg("Error creating trigger")
		return models.Trigger{}, err
	}
	return trigger, nil
}

// Update validates and saves an edited trigger
func (slf *TriggerService) Update(ctx context.Context, trigger models.Trigger) (models.Trigger, error) {
	if err := validateTrigger(&trigger); err != nil {
		return models.Trigger{}, err
	}
	if err := slf.triggerRepo.Update(ctx, &trigger); err != nil {
		slf.logger.Error().Err(err).Uint("triggerId", trigger.ID).Msg("Error updating trigger")
		return models.Trigger{}, err
	}
	return trigger, nil
}

// Delete removes a trigger
func (slf *TriggerService) Delete(ctx context.Context, id uint, organizationID string) error {
	if _, err := slf.FindByID(ctx, id, organizationID); err != nil {
		return err
	}
	if err := slf.triggerRepo.Delete(ctx, id); err != nil {
		slf.logger.Error().Err(err).Uint("triggerId", id).Msg("Error deleting trigger")
		return err
	}
	return nil
}

// Activate enables a trigger. Schedule triggers start counting from now so
// instants missed while disabled are not replayed.
func (slf *TriggerService) Activate(ctx context.Context, id uint, organizationID string) (models.Trigger, error) {
	trigger, err := slf.FindByID(ctx, id, organizationID)
	if err != nil {
		return models.Trigger{}, err
	}
	if err := validateTrigger(&trigger); err != nil {
		return models.Trigger{}, err
	}

	if trigger.Type == models.TriggerTypeSchedule && !trigger.Enabled {
		now := slf.now()
		trigger.LastFiredAt = &now
	}
	trigger.Enabled = true
	trigger.LastError = ""
	if err := slf.triggerRepo.Update(ctx, &trigger); err != nil {
		slf.logger.Error().Err(err).Uint("triggerId", id).Msg("Error activating trigger")
		return models.Trigger{}, err
	}
	return trigger, nil
}

// Pause disables a trigger
func (slf *TriggerService) Pause(ctx context.Context, id uint, organizationID string) (models.Trigger, error) {
	trigger, err := slf.FindByID(ctx, id, organizationID)
	if err != nil {
		return models.Trigger{}, err
	}
	trigger.Enabled = false
	if err := slf.triggerRepo.Update(ctx, &trigger); err != nil {
		slf.logger.Error().Err(err).Uint("triggerId", id).Msg("Error pausing trigger")
		return models.Trigger{}, err
	}
	return trigger, nil
}

// GetRecentLogs returns the latest firings of a trigger
func (slf *TriggerService) GetRecentLogs(ctx context.Context, id uint, organizationID string, limit int) ([]models.TriggerLog, error) {
	if _, err := slf.FindByID(ctx, id, organizationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return slf.triggerRepo.GetRecentLogs(ctx, id, limit)
}

func validateTrigger(trigger *models.Trigger) error {
	if trigger.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidTrigger)
	}
	switch trigger.Type {
	case models.TriggerTypeWebhook:
		if !webhookPathPattern.MatchString(trigger.WebhookPath) {
			return fmt.Errorf("%w: webhook path must be 1-128 letters, digits, '-' or '_'", ErrInvalidTrigger)
		}
		if trigger.Config.Webhook == nil {
			trigger.Config.Webhook = &models.WebhookTriggerConfig{}
		}
		trigger.CronExpression = ""
		trigger.Config.Cron = nil

	case models.TriggerTypeSchedule:
		spec, err := trigger.CronSpec()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		trigger.WebhookPath = ""
		trigger.WebhookSecret = ""
		trigger.Config.Webhook = nil

	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, trigger.Type)
	}

	if len(trigger.InputTemplate) > 0 {
		var template map[string]any
		if err := trigger.InputTemplate.Decode(&template); err != nil {
			return fmt.Errorf("%w: input template must be a JSON object", ErrInvalidTrigger)
		}
	}
	return nil
}
