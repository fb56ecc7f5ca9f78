package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// TriggerType represents the source of execution requests
type TriggerType string

const (
	TriggerTypeWebhook  TriggerType = "WEBHOOK"
	TriggerTypeSchedule TriggerType = "SCHEDULE"
)

// Trigger turns webhooks or cron instants into tasks for one workflow
type Trigger struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"not null" json:"name"`
	Description    string         `json:"description"`
	Type           TriggerType    `gorm:"not null;type:varchar(20)" json:"type"`
	WorkflowID     uint           `gorm:"not null;index" json:"workflowId"`
	OrganizationID string         `gorm:"not null;index" json:"organizationId"`
	CreatorID      string         `json:"creatorId"`
	Enabled        bool           `gorm:"default:false" json:"enabled"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Standard 5-field cron expression or descriptor (@hourly, @every 5m).
	// When empty, Config.Cron is compiled into one.
	CronExpression string `json:"cronExpression,omitempty"`

	WebhookPath   string `gorm:"index:idx_triggers_webhook_path,unique,where:webhook_path <> '';type:varchar(128)" json:"webhookPath,omitempty"`
	WebhookSecret string `json:"-"`

	// Static input merged under the caller-supplied input
	InputTemplate JSONData `gorm:"type:jsonb" json:"inputTemplate,omitempty"`

	RetryOnFail bool `json:"retryOnFail"`
	MaxRetries  int  `gorm:"default:0" json:"maxRetries"`

	// Last scheduled instant that produced a task
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`

	Config TriggerConfig `gorm:"type:jsonb" json:"config"`
}

// TriggerConfig holds type-specific configuration
type TriggerConfig struct {
	Webhook *WebhookTriggerConfig `json:"webhook,omitempty"`
	Cron    *CronTriggerConfig    `json:"cron,omitempty"`
}

// Value implements driver.Valuer for GORM
func (tc TriggerConfig) Value() (driver.Value, error) {
	return json.Marshal(tc)
}

// Scan implements sql.Scanner for GORM
func (tc *TriggerConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, tc)
	case string:
		return json.Unmarshal([]byte(v), tc)
	default:
		return errors.New("failed to scan TriggerConfig: expected []byte")
	}
}

// WebhookTriggerConfig holds configuration for webhook triggers
type WebhookTriggerConfig struct {
	// Headers that must be present with the given value
	RequiredHeaders map[string]string `json:"requiredHeaders,omitempty"`
}

// CronMode represents the scheduling mode for a cron trigger
type CronMode string

const (
	CronModeInterval CronMode = "interval"
	CronModeSchedule CronMode = "schedule"
)

// IntervalUnit represents the time unit for interval-based cron triggers
type IntervalUnit string

const (
	IntervalUnitMinutes IntervalUnit = "minutes"
	IntervalUnitHours   IntervalUnit = "hours"
	IntervalUnitDays    IntervalUnit = "days"
)

// ScheduleFrequency represents how often a scheduled cron trigger fires
type ScheduleFrequency string

const (
	ScheduleFrequencyDaily   ScheduleFrequency = "daily"
	ScheduleFrequencyWeekly  ScheduleFrequency = "weekly"
	ScheduleFrequencyMonthly ScheduleFrequency = "monthly"
)

// CronTriggerConfig is the form-friendly alternative to a raw cron expression
type CronTriggerConfig struct {
	// Mode: "interval" (every X minutes/hours/days) or "schedule" (at specific time)
	Mode CronMode `json:"mode"`

	// Interval mode fields
	IntervalValue int          `json:"intervalValue,omitempty"` // e.g., 30
	IntervalUnit  IntervalUnit `json:"intervalUnit,omitempty"`  // "minutes", "hours", "days"

	// Schedule mode fields
	ScheduleFrequency  ScheduleFrequency `json:"scheduleFrequency,omitempty"`  // "daily", "weekly", "monthly"
	ScheduleTime       string            `json:"scheduleTime,omitempty"`       // "HH:MM" format
	ScheduleDayOfWeek  *int              `json:"scheduleDayOfWeek,omitempty"`  // 0=Sunday..6=Saturday (for weekly)
	ScheduleDayOfMonth *int              `json:"scheduleDayOfMonth,omitempty"` // 1-31 (for monthly)
}

// Expression compiles the form fields into a cron expression.
func (slf CronTriggerConfig) Expression() (string, error) {
	switch slf.Mode {
	case CronModeInterval:
		if slf.IntervalValue <= 0 {
			return "", fmt.Errorf("interval value must be positive")
		}
		switch slf.IntervalUnit {
		case IntervalUnitMinutes:
			return fmt.Sprintf("@every %dm", slf.IntervalValue), nil
		case IntervalUnitHours:
			return fmt.Sprintf("@every %dh", slf.IntervalValue), nil
		case IntervalUnitDays:
			return fmt.Sprintf("@every %dh", slf.IntervalValue*24), nil
		default:
			return "", fmt.Errorf("unknown interval unit: %s", slf.IntervalUnit)
		}
	case CronModeSchedule:
		hour, minute, err := parseScheduleTime(slf.ScheduleTime)
		if err != nil {
			return "", err
		}
		switch slf.ScheduleFrequency {
		case ScheduleFrequencyDaily:
			return fmt.Sprintf("%d %d * * *", minute, hour), nil
		case ScheduleFrequencyWeekly:
			if slf.ScheduleDayOfWeek == nil || *slf.ScheduleDayOfWeek < 0 || *slf.ScheduleDayOfWeek > 6 {
				return "", fmt.Errorf("weekly schedule needs a day of week between 0 and 6")
			}
			return fmt.Sprintf("%d %d * * %d", minute, hour, *slf.ScheduleDayOfWeek), nil
		case ScheduleFrequencyMonthly:
			if slf.ScheduleDayOfMonth == nil || *slf.ScheduleDayOfMonth < 1 || *slf.ScheduleDayOfMonth > 31 {
				return "", fmt.Errorf("monthly schedule needs a day of month between 1 and 31")
			}
			return fmt.Sprintf("%d %d %d * *", minute, hour, *slf.ScheduleDayOfMonth), nil
		default:
			return "", fmt.Errorf("unknown schedule frequency: %s", slf.ScheduleFrequency)
		}
	default:
		return "", fmt.Errorf("unknown cron mode: %s", slf.Mode)
	}
}

func parseScheduleTime(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schedule time must be HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in schedule time %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in schedule time %q", value)
	}
	return hour, minute, nil
}

// CronSpec returns the expression the scheduler should parse.
func (slf Trigger) CronSpec() (string, error) {
	if slf.CronExpression != "" {
		return slf.CronExpression, nil
	}
	if slf.Config.Cron == nil {
		return "", fmt.Errorf("trigger %d has no cron expression", slf.ID)
	}
	return slf.Config.Cron.Expression()
}

// TriggerLog records each time a trigger fires
type TriggerLog struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TriggerID     uint       `gorm:"not null;index" json:"triggerId"`
	Source        string     `gorm:"type:varchar(20)" json:"source"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
	StartedAt     time.Time  `gorm:"not null" json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`

	Status TriggerLogStatus `gorm:"type:varchar(20)" json:"status"`

	TaskID      string `gorm:"type:varchar(36)" json:"taskId,omitempty"`
	ExecutionID string `gorm:"type:varchar(36)" json:"executionId,omitempty"`

	// Error message if failed
	Error string `json:"error,omitempty"`
}

// TriggerLogStatus represents the outcome of a trigger firing
type TriggerLogStatus string

const (
	TriggerLogStatusEnqueued  TriggerLogStatus = "enqueued"
	TriggerLogStatusDuplicate TriggerLogStatus = "duplicate"
	TriggerLogStatusCompleted TriggerLogStatus = "completed"
	TriggerLogStatusFailed    TriggerLogStatus = "failed"
	TriggerLogStatusRejected  TriggerLogStatus = "rejected"
)
