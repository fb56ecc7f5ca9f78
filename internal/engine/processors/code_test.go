package processors

import (
	"context"
	"testing"

	"flowengine/internal/api/models"
	"flowengine/internal/sandbox"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeProcessor_RunsJavaScriptWithUpstreamInput(t *testing.T) {
	sb := sandbox.New(sandbox.Options{Enabled: true}, zerolog.Nop())
	ec := newContext(map[string]any{"x": 1}, success("prices", map[string]any{"items": []any{2, 3}}))
	node := newNode("n", models.NodeTypeCode, models.CodeConfig{
		Language: "javascript",
		Code: `
			console.log("items", input.prices.items.length);
			return input.x + input.prices.items.reduce((a, b) => a + b, 0) + input.bonus;
		`,
		Input: map[string]any{"bonus": "{{prices.items.0}}"},
	})

	out, err := NewCodeProcessor(sb).Process(context.Background(), node, ec)
	require.NoError(t, err)

	require.Equal(t, models.NodeStatusSuccess, out.Status, out.Error)
	assert.Equal(t, float64(8), out.Data)
	assert.Equal(t, []string{"items 2"}, out.Logs)
}

func TestCodeProcessor_MapsSandboxFailure(t *testing.T) {
	sb := sandbox.New(sandbox.Options{Enabled: true}, zerolog.Nop())
	node := newNode("n", models.NodeTypeCode, models.CodeConfig{
		Language:  "javascript",
		Code:      `console.log("spin"); while (true) {}`,
		TimeoutMs: 100,
	})

	out, err := NewCodeProcessor(sb).Process(context.Background(), node, newContext(nil))
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusError, out.Status)
	assert.Equal(t, sandbox.ErrorKindTimeout, out.Data.(map[string]any)["errorKind"])
	assert.Equal(t, []string{"spin"}, out.Logs)
}

func TestCodeProcessor_Disabled(t *testing.T) {
	node := newNode("n", models.NodeTypeCode, models.CodeConfig{Language: "javascript", Code: "return 1"})

	out, err := NewCodeProcessor(nil).Process(context.Background(), node, newContext(nil))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, out.Status)

	disabled := sandbox.New(sandbox.Options{Enabled: false}, zerolog.Nop())
	out, err = NewCodeProcessor(disabled).Process(context.Background(), node, newContext(nil))
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, out.Status)
	assert.Equal(t, sandbox.ErrorKindDisabled, out.Data.(map[string]any)["errorKind"])
}
