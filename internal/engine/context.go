package engine

import (
	"fmt"
	"maps"
	"sync"

	"flowengine/internal/ai"
	"flowengine/internal/api/models"
	"flowengine/internal/engine/resolver"
)

// RunInfo identifies a run for processors, observers and logs.
type RunInfo struct {
	ExecutionID    string
	WorkflowID     uint
	OrganizationID string
	ActorID        string
	// Set for queued runs.
	TaskID string
}

// ExecutionContext is the per-run accumulator. Only the engine writes outputs;
// processors read it during their own invocation and must not keep it.
type ExecutionContext struct {
	Run      RunInfo
	Resolver resolver.Resolver

	mu        sync.RWMutex
	input     map[string]any
	variables map[string]any
	outputs   map[string]models.NodeOutput
	names     map[string]string
	upstream  map[string][]string
	aiConfigs map[string]ai.Config
}

func NewExecutionContext(run RunInfo, input, variables map[string]any) *ExecutionContext {
	if input == nil {
		input = map[string]any{}
	}
	if variables == nil {
		variables = map[string]any{}
	}
	return &ExecutionContext{
		Run:       run,
		input:     input,
		variables: variables,
		outputs:   make(map[string]models.NodeOutput),
		names:     make(map[string]string),
		upstream:  make(map[string][]string),
		aiConfigs: make(map[string]ai.Config),
	}
}

// Seed preloads outputs of nodes that are not part of this run, used when
// previewing a single node against previously captured upstream results.
func (slf *ExecutionContext) Seed(outputs ...models.NodeOutput) {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	for _, out := range outputs {
		slf.outputs[out.NodeID] = out
		if out.NodeName != "" {
			slf.names[out.NodeName] = out.NodeID
		}
	}
}

// SetUpstream declares the direct predecessors of a node.
func (slf *ExecutionContext) SetUpstream(nodeID string, sources []string) {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	slf.upstream[nodeID] = sources
}

func (slf *ExecutionContext) setOutput(out models.NodeOutput) error {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	if _, ok := slf.outputs[out.NodeID]; ok {
		return fmt.Errorf("%w: %s", ErrOutputWritten, out.NodeID)
	}
	slf.outputs[out.NodeID] = out
	if out.NodeName != "" {
		if _, taken := slf.names[out.NodeName]; !taken {
			slf.names[out.NodeName] = out.NodeID
		}
	}
	return nil
}

// Output implements resolver.Source. Node ids win over names.
func (slf *ExecutionContext) Output(ref string) (models.NodeOutput, bool) {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	if out, ok := slf.outputs[ref]; ok {
		return out, true
	}
	if id, ok := slf.names[ref]; ok {
		out, found := slf.outputs[id]
		return out, found
	}
	return models.NodeOutput{}, false
}

func (slf *ExecutionContext) Input() map[string]any {
	return slf.input
}

func (slf *ExecutionContext) Variables() map[string]any {
	return slf.variables
}

// Outputs returns a copy of every recorded node output.
func (slf *ExecutionContext) Outputs() map[string]models.NodeOutput {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	return maps.Clone(slf.outputs)
}

// Upstream returns the outputs of the direct predecessors of nodeID, in edge order.
func (slf *ExecutionContext) Upstream(nodeID string) []models.NodeOutput {
	slf.mu.RLock()
	defer slf.mu.RUnlock()
	sources := slf.upstream[nodeID]
	out := make([]models.NodeOutput, 0, len(sources))
	for _, id := range sources {
		if o, ok := slf.outputs[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// AIConfig returns the cached provider config, loading it once per run.
func (slf *ExecutionContext) AIConfig(provider string, load func(string) (ai.Config, error)) (ai.Config, error) {
	slf.mu.RLock()
	cfg, ok := slf.aiConfigs[provider]
	slf.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := load(provider)
	if err != nil {
		return ai.Config{}, err
	}

	slf.mu.Lock()
	defer slf.mu.Unlock()
	if cached, ok := slf.aiConfigs[provider]; ok {
		return cached, nil
	}
	slf.aiConfigs[provider] = cfg
	return cfg, nil
}

// Template resolves placeholders with the run's resolver mode.
func (slf *ExecutionContext) Template(s string) (string, error) {
	return slf.Resolver.Template(s, slf)
}

// Value resolves s keeping the raw type of a lone placeholder.
func (slf *ExecutionContext) Value(s string) (any, bool) {
	return slf.Resolver.Value(s, slf)
}

// Deep resolves placeholders nested in maps and slices.
func (slf *ExecutionContext) Deep(v any) (any, error) {
	return slf.Resolver.Deep(v, slf)
}
