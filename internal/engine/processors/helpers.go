package processors

import (
	"encoding/json"
	"maps"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"
)

// jsonShape converts typed Go values into the generic shapes produced by
// encoding/json, so ints and float64s compare equal.
func jsonShape(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = jsonShape(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonShape(item)
		}
		return out
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// upstreamData maps each successful direct predecessor (by name, or id when
// unnamed) to its data.
func upstreamData(ec *engine.ExecutionContext, nodeID string) map[string]any {
	out := map[string]any{}
	for _, o := range ec.Upstream(nodeID) {
		if o.Status != models.NodeStatusSuccess {
			continue
		}
		key := o.NodeName
		if key == "" {
			key = o.NodeID
		}
		out[key] = o.Data
	}
	return out
}

// defaultInput is the run input overlaid with upstream data, the payload handed
// to nodes that consume "whatever came before".
func defaultInput(ec *engine.ExecutionContext, nodeID string) map[string]any {
	out := maps.Clone(ec.Input())
	if out == nil {
		out = map[string]any{}
	}
	maps.Copy(out, upstreamData(ec, nodeID))
	return out
}
