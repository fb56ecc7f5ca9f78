package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"flowengine/internal/api/models"
)

// Node ids may be generated uuids, so a reference can start with a digit.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w$-]+(?:\.[\w$-]+)*)\s*\}\}`)

// ErrUnresolved is returned in strict mode when a placeholder has no value.
var ErrUnresolved = errors.New("unresolved variable")

// Source gives read access to the run state a placeholder can point at.
type Source interface {
	// Output finds a completed node by id, then by name.
	Output(ref string) (models.NodeOutput, bool)
	Input() map[string]any
	Variables() map[string]any
}

// Resolver substitutes {{node.path}} placeholders. The zero value is lenient:
// misses resolve to nothing and templates keep the placeholder verbatim.
type Resolver struct {
	Strict bool
}

// Resolve looks up a single expression, with or without the surrounding braces.
func Resolve(expr string, src Source) (any, bool) {
	path := strings.TrimSpace(expr)
	if m := placeholderPattern.FindStringSubmatch(path); m != nil && m[0] == path {
		path = m[1]
	}
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	root, rest := segments[0], segments[1:]

	if src == nil {
		return nil, false
	}
	if out, ok := src.Output(root); ok {
		return descendOutput(out, rest)
	}
	switch root {
	case "input":
		return descend(src.Input(), rest)
	case "vars":
		return descend(src.Variables(), rest)
	}
	return nil, false
}

func descendOutput(out models.NodeOutput, path []string) (any, bool) {
	if out.Data == nil {
		return descend(outputFields(out), path)
	}
	if len(path) > 0 && path[0] == "data" {
		// {{A.data.x}} and {{A.x}} address the same value unless data has its own "data" key
		if m, ok := normalize(out.Data).(map[string]any); !ok || m["data"] == nil {
			return descend(out.Data, path[1:])
		}
	}
	return descend(out.Data, path)
}

func outputFields(out models.NodeOutput) map[string]any {
	fields := map[string]any{
		"status": string(out.Status),
	}
	if out.Error != "" {
		fields["error"] = out.Error
	}
	if len(out.Logs) > 0 {
		logs := make([]any, len(out.Logs))
		for i, l := range out.Logs {
			logs[i] = l
		}
		fields["logs"] = logs
	}
	return fields
}

func descend(value any, path []string) (any, bool) {
	current := value
	for _, segment := range path {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func step(value any, segment string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		next, ok := v[segment]
		return next, ok
	case map[string]string:
		next, ok := v[segment]
		return next, ok
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(v) {
			if segment == "length" {
				return len(v), true
			}
			return nil, false
		}
		return v[idx], true
	case nil:
		return nil, false
	default:
		normalized := normalize(value)
		switch normalized.(type) {
		case map[string]any, []any:
			return step(normalized, segment)
		}
		return nil, false
	}
}

// normalize turns typed structs and slices into the generic JSON shapes.
func normalize(value any) any {
	switch value.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}

// Template replaces every resolvable placeholder with its string form.
func Template(s string, src Source) string {
	out, _ := Resolver{}.Template(s, src)
	return out
}

// Value returns the raw typed value when s is exactly one placeholder,
// otherwise the templated string.
func Value(s string, src Source) (any, bool) {
	return Resolver{}.Value(s, src)
}

func (r Resolver) Template(s string, src Source) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		value, ok := Resolve(match, src)
		if !ok {
			missing = append(missing, match)
			return match
		}
		return Stringify(value)
	})
	if r.Strict && len(missing) > 0 {
		return out, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(missing, ", "))
	}
	return out, nil
}

func (r Resolver) Value(s string, src Source) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if m := placeholderPattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		return Resolve(m[1], src)
	}
	out, err := r.Template(s, src)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Deep templates every string inside maps and slices. Single-placeholder strings keep their type.
func (r Resolver) Deep(value any, src Source) (any, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if m := placeholderPattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
			if resolved, ok := Resolve(m[1], src); ok {
				return resolved, nil
			}
			if r.Strict {
				return nil, fmt.Errorf("%w: %s", ErrUnresolved, v)
			}
			return v, nil
		}
		return r.Template(v, src)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := r.Deep(item, src)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.Deep(item, src)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// Stringify renders a resolved value for text substitution. Objects become JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64, bool:
		return fmt.Sprintf("%v", v)
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Placeholders lists the expressions referenced by s.
func Placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
