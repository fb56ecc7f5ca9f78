package resolver

import (
	"testing"

	"flowengine/internal/api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	outputs map[string]models.NodeOutput
	input   map[string]any
	vars    map[string]any
}

func (s stubSource) Output(ref string) (models.NodeOutput, bool) {
	if out, ok := s.outputs[ref]; ok {
		return out, true
	}
	for _, out := range s.outputs {
		if out.NodeName == ref {
			return out, true
		}
	}
	return models.NodeOutput{}, false
}

func (s stubSource) Input() map[string]any     { return s.input }
func (s stubSource) Variables() map[string]any { return s.vars }

func newStubSource() stubSource {
	return stubSource{
		outputs: map[string]models.NodeOutput{
			"node1": {
				NodeID:   "node1",
				NodeName: "Fetch",
				Status:   models.NodeStatusSuccess,
				Data: map[string]any{
					"count": float64(15),
					"user":  map[string]any{"name": "Ada", "tags": []any{"a", "b"}},
				},
			},
			"3fa8c1e2-7b": {
				NodeID: "3fa8c1e2-7b",
				Status: models.NodeStatusSuccess,
				Data:   map[string]any{"value": "uuid-ref"},
			},
			"failed": {
				NodeID: "failed",
				Status: models.NodeStatusError,
				Error:  "boom",
			},
		},
		input: map[string]any{"x": float64(1)},
		vars:  map[string]any{"env": "prod"},
	}
}

func TestResolve(t *testing.T) {
	src := newStubSource()

	tests := []struct {
		name   string
		expr   string
		want   any
		wantOK bool
	}{
		{"by id", "{{node1.count}}", float64(15), true},
		{"without braces", "node1.count", float64(15), true},
		{"by name", "{{Fetch.user.name}}", "Ada", true},
		{"data prefix", "{{node1.data.count}}", float64(15), true},
		{"array index", "{{node1.user.tags.1}}", "b", true},
		{"array length", "{{node1.user.tags.length}}", 2, true},
		{"whole data", "{{node1}}", src.outputs["node1"].Data, true},
		{"output object without data", "{{failed.error}}", "boom", true},
		{"input root", "{{input.x}}", float64(1), true},
		{"vars root", "{{vars.env}}", "prod", true},
		{"id starting with a digit", "{{3fa8c1e2-7b.value}}", "uuid-ref", true},
		{"missing node", "{{ghost.value}}", nil, false},
		{"missing path", "{{node1.user.age}}", nil, false},
		{"descend into scalar", "{{node1.count.value}}", nil, false},
		{"empty", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.expr, src)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplate_LeavesUnresolvedVerbatim(t *testing.T) {
	src := newStubSource()

	got := Template("Hello {{Fetch.user.name}}, you have {{node1.count}} items and {{ghost.x}}", src)
	assert.Equal(t, "Hello Ada, you have 15 items and {{ghost.x}}", got)

	assert.Equal(t, "ref=uuid-ref", Template("ref={{ 3fa8c1e2-7b.value }}", src))
}

func TestTemplate_SerializesObjects(t *testing.T) {
	src := newStubSource()

	got := Template("tags={{node1.user.tags}}", src)
	assert.Equal(t, `tags=["a","b"]`, got)
}

func TestValue_SinglePlaceholderKeepsType(t *testing.T) {
	src := newStubSource()

	v, ok := Value("{{node1.count}}", src)
	require.True(t, ok)
	assert.Equal(t, float64(15), v)

	v, ok = Value(" {{ node1.count }} ", src)
	require.True(t, ok)
	assert.Equal(t, float64(15), v)

	v, ok = Value("count: {{node1.count}}", src)
	require.True(t, ok)
	assert.Equal(t, "count: 15", v)

	_, ok = Value("{{ghost}}", src)
	assert.False(t, ok)
}

func TestResolver_Strict(t *testing.T) {
	src := newStubSource()
	strict := Resolver{Strict: true}

	_, err := strict.Template("{{ghost.x}}", src)
	require.ErrorIs(t, err, ErrUnresolved)

	out, err := strict.Template("{{node1.count}}", src)
	require.NoError(t, err)
	assert.Equal(t, "15", out)

	_, err = strict.Deep(map[string]any{"a": "{{ghost}}"}, src)
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestResolver_Deep(t *testing.T) {
	src := newStubSource()

	got, err := Resolver{}.Deep(map[string]any{
		"count": "{{node1.count}}",
		"text":  "name={{Fetch.user.name}}",
		"list":  []any{"{{input.x}}", 3.0},
		"keep":  "{{ghost}}",
	}, src)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"count": float64(15),
		"text":  "name=Ada",
		"list":  []any{float64(1), 3.0},
		"keep":  "{{ghost}}",
	}, got)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"a.b", "c"}, Placeholders("{{a.b}} and {{ c }}"))
	assert.Empty(t, Placeholders("no refs"))
}
