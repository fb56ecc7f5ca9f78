package processors

import (
	"context"
	"maps"
	"strings"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"
	"flowengine/internal/engine/resolver"
)

// InputProcessor exposes the run input, applying field defaults and required checks.
type InputProcessor struct{}

func NewInputProcessor() *InputProcessor {
	return &InputProcessor{}
}

func (slf *InputProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	cfg, err := models.GetTypedConfig[models.InputConfig](node)
	if err != nil {
		return engine.Failure("invalid input config: %v", err), nil
	}

	data := maps.Clone(ec.Input())
	if data == nil {
		data = map[string]any{}
	}
	var missing []string
	for _, field := range cfg.Fields {
		if v, ok := data[field.Name]; ok && v != nil {
			continue
		}
		if field.Default != nil {
			data[field.Name] = field.Default
			continue
		}
		if field.Required {
			missing = append(missing, field.Name)
		}
	}
	if len(missing) > 0 {
		return engine.Failure("missing required input: %s", strings.Join(missing, ", ")), nil
	}
	return engine.Success(data), nil
}

// OutputProcessor shapes the final result of a run.
type OutputProcessor struct{}

func NewOutputProcessor() *OutputProcessor {
	return &OutputProcessor{}
}

func (slf *OutputProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	cfg, err := models.GetTypedConfig[models.OutputConfig](node)
	if err != nil {
		return engine.Failure("invalid output config: %v", err), nil
	}

	switch cfg.Format {
	case models.OutputFormatTemplate:
		if cfg.Template == "" {
			return engine.Failure("output template is empty"), nil
		}
		text, err := ec.Template(cfg.Template)
		if err != nil {
			return engine.Failure("output template: %v", err), nil
		}
		return engine.Success(text), nil
	case models.OutputFormatText:
		if cfg.Template != "" {
			text, err := ec.Template(cfg.Template)
			if err != nil {
				return engine.Failure("output template: %v", err), nil
			}
			return engine.Success(text), nil
		}
		return engine.Success(resolver.Stringify(collected(ec, node.ID))), nil
	case models.OutputFormatJSON, "":
		if cfg.Template != "" {
			value, ok := ec.Value(cfg.Template)
			if !ok {
				return engine.Failure("output value %s is unresolved", cfg.Template), nil
			}
			return engine.Success(value), nil
		}
		return engine.Success(collected(ec, node.ID)), nil
	default:
		return engine.Failure("unknown output format %q", cfg.Format), nil
	}
}

// collected is the single upstream payload, or all upstream payloads keyed by node.
func collected(ec *engine.ExecutionContext, nodeID string) any {
	upstream := upstreamData(ec, nodeID)
	if len(upstream) == 1 {
		for _, v := range upstream {
			return v
		}
	}
	return upstream
}

// LogicProcessor joins fan-in branches without code.
type LogicProcessor struct{}

func NewLogicProcessor() *LogicProcessor {
	return &LogicProcessor{}
}

func (slf *LogicProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	cfg, err := models.GetTypedConfig[models.LogicConfig](node)
	if err != nil {
		return engine.Failure("invalid logic config: %v", err), nil
	}

	var upstream []models.NodeOutput
	for _, o := range ec.Upstream(node.ID) {
		if o.Status == models.NodeStatusSuccess {
			upstream = append(upstream, o)
		}
	}

	switch cfg.Mode {
	case models.LogicModeFirst:
		if len(upstream) == 0 {
			return engine.Failure("no upstream node produced output"), nil
		}
		return engine.Success(upstream[0].Data), nil
	case models.LogicModeMerge, "":
		merged := map[string]any{}
		for _, o := range upstream {
			if m, ok := jsonShape(o.Data).(map[string]any); ok {
				maps.Copy(merged, m)
				continue
			}
			key := o.NodeName
			if key == "" {
				key = o.NodeID
			}
			merged[key] = o.Data
		}
		return engine.Success(merged), nil
	default:
		return engine.Failure("unknown logic mode %q", cfg.Mode), nil
	}
}
