package engine

import (
	"context"
	"fmt"
	"slices"

	"flowengine/internal/api/models"
)

// Processor runs one node type. A returned error is an engine fault and aborts
// the run; expected failures come back as an output with status error.
type Processor interface {
	Process(ctx context.Context, node models.Node, ec *ExecutionContext) (models.NodeOutput, error)
}

type ProcessorFunc func(ctx context.Context, node models.Node, ec *ExecutionContext) (models.NodeOutput, error)

func (f ProcessorFunc) Process(ctx context.Context, node models.Node, ec *ExecutionContext) (models.NodeOutput, error) {
	return f(ctx, node, ec)
}

// Registry binds each node type to exactly one processor. There is no fallback.
type Registry struct {
	processors map[models.NodeType]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[models.NodeType]Processor)}
}

func (slf *Registry) Register(nodeType models.NodeType, p Processor) error {
	if !slices.Contains(models.NodeTypes, nodeType) {
		return fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	if _, ok := slf.processors[nodeType]; ok {
		return fmt.Errorf("processor already registered for %s", nodeType)
	}
	slf.processors[nodeType] = p
	return nil
}

// MustRegister panics on error, for wiring at startup.
func (slf *Registry) MustRegister(nodeType models.NodeType, p Processor) {
	if err := slf.Register(nodeType, p); err != nil {
		panic(err)
	}
}

func (slf *Registry) Get(nodeType models.NodeType) (Processor, error) {
	p, ok := slf.processors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return p, nil
}

// Check fails when any node of the config has no processor.
func (slf *Registry) Check(cfg models.WorkflowConfig) error {
	for _, node := range cfg.Nodes {
		if _, err := slf.Get(node.Type); err != nil {
			return fault(node.ID, err)
		}
	}
	return nil
}

// Success and Failure build processor results; the engine fills ids and timings.
func Success(data any) models.NodeOutput {
	return models.NodeOutput{Status: models.NodeStatusSuccess, Data: data}
}

func Failure(format string, args ...any) models.NodeOutput {
	return models.NodeOutput{Status: models.NodeStatusError, Error: fmt.Sprintf(format, args...)}
}
