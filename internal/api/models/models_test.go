package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig() WorkflowConfig {
	return WorkflowConfig{
		Version: 1,
		Nodes: []Node{
			{ID: "a", Type: NodeTypeInput, Name: "start"},
			{ID: "b", Type: NodeTypeCondition, Config: json.RawMessage(`{"mode":"all"}`)},
			{ID: "c", Type: NodeTypeOutput},
		},
		Edges: []Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c", SourceHandle: "true"},
			{ID: "e3", Source: "a", Target: "c"},
		},
	}
}

func TestWorkflowConfig_DeleteNode(t *testing.T) {
	cfg := sampleConfig()

	assert.True(t, cfg.DeleteNode("b"))
	require.Len(t, cfg.Nodes, 2)
	_, found := cfg.FindNode("b")
	assert.False(t, found)
	require.Len(t, cfg.Edges, 1)
	assert.Equal(t, "e3", cfg.Edges[0].ID)
	assert.NoError(t, cfg.Validate())

	assert.False(t, cfg.DeleteNode("missing"))
	assert.Len(t, cfg.Nodes, 2)
}

func TestWorkflowConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkflowConfig)
		wantErr error
	}{
		{name: "valid", mutate: func(*WorkflowConfig) {}},
		{name: "duplicate id", mutate: func(c *WorkflowConfig) { c.Nodes[1].ID = "a" }, wantErr: ErrDuplicateNode},
		{name: "empty id", mutate: func(c *WorkflowConfig) { c.Nodes[0].ID = "" }, wantErr: ErrEmptyNodeID},
		{name: "dangling target", mutate: func(c *WorkflowConfig) { c.Edges[0].Target = "zz" }, wantErr: ErrDanglingEdge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sampleConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWorkflowConfig_CloneIsIndependent(t *testing.T) {
	cfg := sampleConfig()
	clone := cfg.Clone()

	cfg.Nodes[1].Config[2] = 'X'
	cfg.DeleteNode("a")

	assert.Len(t, clone.Nodes, 3)
	assert.Len(t, clone.Edges, 3)
	assert.JSONEq(t, `{"mode":"all"}`, string(clone.Nodes[1].Config))
}

func TestWorkflowConfig_ValueScan(t *testing.T) {
	value, err := sampleConfig().Value()
	require.NoError(t, err)

	var restored WorkflowConfig
	require.NoError(t, restored.Scan(value))
	assert.Equal(t, sampleConfig().Edges, restored.Edges)
}

func TestCronTriggerConfig_Expression(t *testing.T) {
	day := func(v int) *int { return &v }
	tests := []struct {
		name    string
		cfg     CronTriggerConfig
		want    string
		wantErr bool
	}{
		{name: "minutes", cfg: CronTriggerConfig{Mode: CronModeInterval, IntervalValue: 15, IntervalUnit: IntervalUnitMinutes}, want: "@every 15m"},
		{name: "days", cfg: CronTriggerConfig{Mode: CronModeInterval, IntervalValue: 2, IntervalUnit: IntervalUnitDays}, want: "@every 48h"},
		{name: "zero interval", cfg: CronTriggerConfig{Mode: CronModeInterval, IntervalUnit: IntervalUnitHours}, wantErr: true},
		{name: "daily", cfg: CronTriggerConfig{Mode: CronModeSchedule, ScheduleFrequency: ScheduleFrequencyDaily, ScheduleTime: "06:30"}, want: "30 6 * * *"},
		{name: "weekly", cfg: CronTriggerConfig{Mode: CronModeSchedule, ScheduleFrequency: ScheduleFrequencyWeekly, ScheduleTime: "23:05", ScheduleDayOfWeek: day(1)}, want: "5 23 * * 1"},
		{name: "weekly without day", cfg: CronTriggerConfig{Mode: CronModeSchedule, ScheduleFrequency: ScheduleFrequencyWeekly, ScheduleTime: "23:05"}, wantErr: true},
		{name: "monthly", cfg: CronTriggerConfig{Mode: CronModeSchedule, ScheduleFrequency: ScheduleFrequencyMonthly, ScheduleTime: "00:00", ScheduleDayOfMonth: day(31)}, want: "0 0 31 * *"},
		{name: "bad time", cfg: CronTriggerConfig{Mode: CronModeSchedule, ScheduleFrequency: ScheduleFrequencyDaily, ScheduleTime: "24:00"}, wantErr: true},
		{name: "unknown mode", cfg: CronTriggerConfig{Mode: "yearly"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Expression()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(TaskStatusPending, TaskStatusRunning))
	assert.True(t, CanTransition(TaskStatusRunning, TaskStatusPending))
	assert.True(t, CanTransition(TaskStatusRunning, TaskStatusCompleted))
	assert.False(t, CanTransition(TaskStatusCompleted, TaskStatusRunning))
	assert.False(t, CanTransition(TaskStatusFailed, TaskStatusPending))
	assert.False(t, CanTransition(TaskStatusPending, TaskStatusCompleted))
}
