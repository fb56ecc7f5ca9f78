package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindNodeStarted  Kind = "node.started"
	KindNodeFinished Kind = "node.finished"
	KindRunFinished  Kind = "run.finished"
)

// Progress is the payload published for every node and run transition.
type Progress struct {
	Kind           Kind   `json:"kind"`
	ExecutionID    string `json:"executionId"`
	TaskID         string `json:"taskId,omitempty"`
	WorkflowID     uint   `json:"workflowId"`
	OrganizationID string `json:"organizationId"`
	NodeID         string `json:"nodeId,omitempty"`
	NodeName       string `json:"nodeName,omitempty"`
	NodeType       string `json:"nodeType,omitempty"`
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`
	TotalTokens    int64  `json:"totalTokens,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Publisher is the subset of *nats.Conn used to emit progress.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subject is where progress of one run is published.
func Subject(tenantID, executionID string) string {
	return fmt.Sprintf("tenant.%s.run.%s.progress", tenantID, executionID)
}

// WildcardSubject matches the progress of every run of a tenant.
func WildcardSubject(tenantID string) string {
	return fmt.Sprintf("tenant.%s.run.*.progress", tenantID)
}

// ExecutionIDFromSubject extracts the run id from "tenant.<tid>.run.<id>.progress".
func ExecutionIDFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "run" || parts[4] != "progress" {
		return "", fmt.Errorf("unexpected progress subject %q", subject)
	}
	if parts[3] == "" {
		return "", fmt.Errorf("empty execution id in %q", subject)
	}
	return parts[3], nil
}

// ProgressReporter publishes engine progress. Best-effort: without a
// connection it only logs, and publish errors never fail a run.
type ProgressReporter struct {
	conn     Publisher
	tenantID string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewProgressReporter(conn *nats.Conn, tenantID string, logger zerolog.Logger) *ProgressReporter {
	if conn == nil {
		return &ProgressReporter{tenantID: tenantID, logger: logger, now: time.Now}
	}
	return NewProgressReporterWith(conn, tenantID, logger)
}

func NewProgressReporterWith(conn Publisher, tenantID string, logger zerolog.Logger) *ProgressReporter {
	return &ProgressReporter{conn: conn, tenantID: tenantID, logger: logger, now: time.Now}
}

func (slf *ProgressReporter) NodeStarted(run engine.RunInfo, node models.Node) {
	slf.publish(run, Progress{
		Kind:     KindNodeStarted,
		NodeID:   node.ID,
		NodeName: node.Name,
		NodeType: string(node.Type),
		Status:   string(models.RunStatusRunning),
	})
}

func (slf *ProgressReporter) NodeFinished(run engine.RunInfo, node models.Node, out models.NodeOutput) {
	p := Progress{
		Kind:       KindNodeFinished,
		NodeID:     node.ID,
		NodeName:   node.Name,
		NodeType:   string(node.Type),
		Status:     string(out.Status),
		Message:    out.Error,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.TokenUsage != nil {
		p.TotalTokens = out.TokenUsage.TotalTokens
	}
	slf.publish(run, p)
}

func (slf *ProgressReporter) RunFinished(run engine.RunInfo, result engine.RunResult) {
	slf.publish(run, Progress{
		Kind:        KindRunFinished,
		Status:      string(result.Status),
		Message:     result.Error,
		DurationMs:  result.Duration.Milliseconds(),
		TotalTokens: result.TotalTokens,
	})
}

func (slf *ProgressReporter) publish(run engine.RunInfo, p Progress) {
	p.ExecutionID = run.ExecutionID
	p.TaskID = run.TaskID
	p.WorkflowID = run.WorkflowID
	p.OrganizationID = run.OrganizationID
	p.Timestamp = slf.now().UnixMilli()

	if slf.conn == nil || run.ExecutionID == "" {
		slf.logger.Debug().Str("executionId", run.ExecutionID).Str("kind", string(p.Kind)).Str("nodeId", p.NodeID).Str("status", p.Status).Msg("Progress (no-op)")
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		slf.logger.Warn().Err(err).Msg("Progress marshal error")
		return
	}
	if err := slf.conn.Publish(Subject(slf.tenantID, run.ExecutionID), data); err != nil {
		slf.logger.Warn().Err(err).Str("executionId", run.ExecutionID).Msg("Progress publish error")
	}
}
