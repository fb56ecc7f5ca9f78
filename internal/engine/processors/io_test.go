package processors

import (
	"context"
	"testing"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputProcessor(t *testing.T) {
	cfg := models.InputConfig{Fields: []models.InputField{
		{Name: "email", Required: true},
		{Name: "locale", Default: "en"},
	}}

	out, err := NewInputProcessor().Process(context.Background(), newNode("n", models.NodeTypeInput, cfg), newContext(map[string]any{"email": "a@b.c"}))
	require.NoError(t, err)
	require.Equal(t, models.NodeStatusSuccess, out.Status)
	assert.Equal(t, map[string]any{"email": "a@b.c", "locale": "en"}, out.Data)

	out, err = NewInputProcessor().Process(context.Background(), newNode("n", models.NodeTypeInput, cfg), newContext(nil))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, out.Status)
	assert.Equal(t, "missing required input: email", out.Error)
}

func TestOutputProcessor(t *testing.T) {
	ec := newContext(nil, success("summary", map[string]any{"title": "Q3", "score": 9}))

	tests := []struct {
		name string
		cfg  models.OutputConfig
		want any
	}{
		{"json passthrough", models.OutputConfig{}, map[string]any{"title": "Q3", "score": 9}},
		{"json value", models.OutputConfig{Format: models.OutputFormatJSON, Template: "{{summary.score}}"}, 9},
		{"template", models.OutputConfig{Format: models.OutputFormatTemplate, Template: "{{summary.title}} scored {{summary.score}}"}, "Q3 scored 9"},
		{"text", models.OutputConfig{Format: models.OutputFormatText}, `{"score":9,"title":"Q3"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewOutputProcessor().Process(context.Background(), newNode("n", models.NodeTypeOutput, tt.cfg), ec)
			require.NoError(t, err)
			require.Equal(t, models.NodeStatusSuccess, out.Status, out.Error)
			assert.Equal(t, tt.want, out.Data)
		})
	}

	out, err := NewOutputProcessor().Process(context.Background(), newNode("n", models.NodeTypeOutput, models.OutputConfig{Format: "xml"}), ec)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, out.Status)
}

func TestLogicProcessor(t *testing.T) {
	skipped := models.NodeOutput{NodeID: "b", NodeName: "b", Status: models.NodeStatusSkipped, Inactive: true, Error: "branch not taken"}
	ec := newContext(nil,
		success("a", map[string]any{"x": 1}),
		skipped,
		success("c", "plain"),
	)

	out, err := NewLogicProcessor().Process(context.Background(), newNode("n", models.NodeTypeLogic, models.LogicConfig{}), ec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1), "c": "plain"}, out.Data)

	out, err = NewLogicProcessor().Process(context.Background(), newNode("n", models.NodeTypeLogic, models.LogicConfig{Mode: models.LogicModeFirst}), ec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, out.Data)

	empty := newContext(nil, skipped)
	out, err = NewLogicProcessor().Process(context.Background(), newNode("n", models.NodeTypeLogic, models.LogicConfig{Mode: models.LogicModeFirst}), empty)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, out.Status)
}

func TestLogicProcessor_JoinsConditionBranches(t *testing.T) {
	registry := NewDefaultRegistry(Dependencies{})
	eng := engine.NewEngine(registry, engine.Options{}, zerolog.Nop())

	cfg := models.WorkflowConfig{
		Nodes: []models.Node{
			newNode("in", models.NodeTypeInput, nil),
			newNode("check", models.NodeTypeCondition, models.ConditionConfig{
				Conditions: []models.ConditionClause{{Variable: "{{in.amount}}", Operator: models.OperatorGreaterThan, Value: 100}},
			}),
			newNode("big", models.NodeTypeOutput, models.OutputConfig{Format: models.OutputFormatTemplate, Template: "large"}),
			newNode("small", models.NodeTypeOutput, models.OutputConfig{Format: models.OutputFormatTemplate, Template: "small"}),
			newNode("join", models.NodeTypeLogic, models.LogicConfig{Mode: models.LogicModeFirst}),
		},
		Edges: []models.Edge{
			{ID: "1", Source: "in", Target: "check"},
			{ID: "2", Source: "check", Target: "big", SourceHandle: "true"},
			{ID: "3", Source: "check", Target: "small", SourceHandle: "false"},
			{ID: "4", Source: "big", Target: "join"},
			{ID: "5", Source: "small", Target: "join"},
		},
	}

	result, err := eng.Run(context.Background(), engine.RunRequest{Config: cfg, Input: map[string]any{"amount": 250}})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, result.Status, result.Error)
	assert.Equal(t, "large", result.Outputs["join"].Data)
	assert.Equal(t, models.NodeStatusSkipped, result.Outputs["small"].Status)
}
