package processors

import (
	"context"
	"maps"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"
	"flowengine/internal/sandbox"
)

// CodeExecutor runs a snippet and reports the outcome as data.
type CodeExecutor interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Result
}

type CodeProcessor struct {
	executor CodeExecutor
}

func NewCodeProcessor(executor CodeExecutor) *CodeProcessor {
	return &CodeProcessor{executor: executor}
}

func (slf *CodeProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	if slf.executor == nil {
		return engine.Failure("code execution is disabled"), nil
	}
	cfg, err := models.GetTypedConfig[models.CodeConfig](node)
	if err != nil {
		return engine.Failure("invalid code config: %v", err), nil
	}
	if cfg.Code == "" {
		return engine.Failure("code node has no code"), nil
	}

	input := defaultInput(ec, node.ID)
	if len(cfg.Input) > 0 {
		resolved, err := ec.Deep(map[string]any(cfg.Input))
		if err != nil {
			return engine.Failure("code input: %v", err), nil
		}
		if m, ok := resolved.(map[string]any); ok {
			maps.Copy(input, m)
		}
	}

	res := slf.executor.Execute(ctx, sandbox.Request{
		Language:      sandbox.Language(cfg.Language),
		Code:          cfg.Code,
		Input:         input,
		TimeoutMs:     cfg.TimeoutMs,
		MaxOutputSize: cfg.MaxOutputSize,
	})

	var out models.NodeOutput
	if res.OK {
		out = engine.Success(res.Result)
	} else {
		out = engine.Failure("%s", res.Error)
		out.Data = map[string]any{"errorKind": res.ErrorKind, "durationMs": res.DurationMs}
	}
	out.Logs = res.Logs
	return out, nil
}
