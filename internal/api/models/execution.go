package models

import (
	"time"
)

type NodeStatus string

const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
	NodeStatusSkipped NodeStatus = "skipped"
)

type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

func (slf *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	slf.PromptTokens += other.PromptTokens
	slf.CompletionTokens += other.CompletionTokens
	slf.TotalTokens += other.TotalTokens
}

// NodeOutput is written once per node per run.
type NodeOutput struct {
	NodeID      string        `json:"nodeId"`
	NodeName    string        `json:"nodeName"`
	Status      NodeStatus    `json:"status"`
	Data        any           `json:"data,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
	TokenUsage  *TokenUsage   `json:"tokenUsage,omitempty"`
	Logs        []string      `json:"logs,omitempty"`
	// Set on skipped nodes whose skip does not count as a failure (branch not taken).
	Inactive bool `json:"inactive,omitempty"`
}

func (slf NodeOutput) Failed() bool {
	return slf.Status == NodeStatusError || (slf.Status == NodeStatusSkipped && !slf.Inactive)
}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ErrorKind separates node failures from engine faults in run records.
type ErrorKind string

const (
	ErrorKindNone  ErrorKind = ""
	ErrorKindNode  ErrorKind = "node"
	ErrorKindFault ErrorKind = "fault"
)

// Execution is the persisted run record.
type Execution struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkflowID     uint       `gorm:"not null;index" json:"workflowId"`
	OrganizationID string     `gorm:"not null;index" json:"organizationId"`
	ActorID        string     `json:"actorId"`
	TaskID         string     `gorm:"index;type:varchar(36)" json:"taskId,omitempty"`
	TriggerID      *uint      `gorm:"index" json:"triggerId,omitempty"`
	Status         RunStatus  `gorm:"type:varchar(20);index" json:"status"`
	Input          JSONData   `gorm:"type:jsonb" json:"input,omitempty"`
	Output         JSONData   `gorm:"type:jsonb" json:"output,omitempty"`
	NodeOutputs    JSONData   `gorm:"type:jsonb" json:"nodeOutputs,omitempty"`
	Error          string     `json:"error,omitempty"`
	ErrorKind      ErrorKind  `gorm:"type:varchar(20)" json:"errorKind,omitempty"`
	FailedNodeID   string     `json:"failedNodeId,omitempty"`
	TotalTokens    int64      `json:"totalTokens"`
	DurationMs     int64      `json:"durationMs"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ExecutionResult is what executeWorkflow hands back to callers.
type ExecutionResult struct {
	Status      RunStatus             `json:"status"`
	ExecutionID string                `json:"executionId"`
	Output      any                   `json:"output,omitempty"`
	Error       string                `json:"error,omitempty"`
	ErrorKind   ErrorKind             `json:"errorKind,omitempty"`
	Duration    time.Duration         `json:"duration"`
	TotalTokens int64                 `json:"totalTokens"`
	NodeOutputs map[string]NodeOutput `json:"nodeOutputs,omitempty"`
}
