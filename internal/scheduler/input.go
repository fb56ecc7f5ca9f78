package scheduler

import (
	"fmt"
	"maps"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/queue"
)

// TriggerInput merges the trigger's static input, the firing metadata under
// "trigger" and the caller input, later layers winning.
func TriggerInput(trigger models.Trigger, scheduled *time.Time, caller map[string]any) (map[string]any, error) {
	input := map[string]any{}
	if len(trigger.InputTemplate) > 0 {
		if err := trigger.InputTemplate.Decode(&input); err != nil {
			return nil, fmt.Errorf("trigger %d input template: %w", trigger.ID, err)
		}
		if input == nil {
			input = map[string]any{}
		}
	}

	meta := map[string]any{
		"id":   trigger.ID,
		"type": string(trigger.Type),
	}
	if scheduled != nil {
		meta["scheduledTime"] = scheduled.UTC().Format(time.RFC3339)
	}
	input["trigger"] = meta

	maps.Copy(input, caller)
	return input, nil
}

// TaskRequest turns a firing into a queue request. Retrying triggers get one
// attempt per allowed retry on top of the first run; the others keep the
// queue's default budget for expired leases.
func TaskRequest(trigger models.Trigger, input map[string]any) queue.EnqueueRequest {
	id := trigger.ID
	req := queue.EnqueueRequest{
		WorkflowID:     trigger.WorkflowID,
		OrganizationID: trigger.OrganizationID,
		CreatedByID:    trigger.CreatorID,
		TriggerID:      &id,
		Input:          input,
	}
	if trigger.RetryOnFail && trigger.MaxRetries > 0 {
		req.MaxAttempts = trigger.MaxRetries + 1
		req.RetryFailed = true
	}
	return req
}
