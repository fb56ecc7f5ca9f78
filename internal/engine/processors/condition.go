package processors

import (
	"context"
	"reflect"
	"strconv"
	"strings"

	"flowengine/internal/api/models"
	"flowengine/internal/engine"
	"flowengine/internal/engine/resolver"
)

type ConditionProcessor struct{}

func NewConditionProcessor() *ConditionProcessor {
	return &ConditionProcessor{}
}

type clauseResult struct {
	Variable string                   `json:"variable"`
	Operator models.ConditionOperator `json:"operator"`
	Value    any                      `json:"value,omitempty"`
	Resolved any                      `json:"resolved"`
	Result   bool                     `json:"result"`
}

func (slf *ConditionProcessor) Process(ctx context.Context, node models.Node, ec *engine.ExecutionContext) (models.NodeOutput, error) {
	cfg, err := models.GetTypedConfig[models.ConditionConfig](node)
	if err != nil {
		return engine.Failure("invalid condition config: %v", err), nil
	}
	if len(cfg.Conditions) == 0 {
		return engine.Failure("condition node has no conditions"), nil
	}

	mode := cfg.Mode
	if mode == "" {
		mode = models.ConditionModeAll
	}
	if mode != models.ConditionModeAll && mode != models.ConditionModeAny {
		return engine.Failure("unknown condition mode %q", mode), nil
	}

	evaluated := make([]any, 0, len(cfg.Conditions))
	result := mode == models.ConditionModeAll
	for _, clause := range cfg.Conditions {
		if !knownOperator(clause.Operator) {
			return engine.Failure("unknown operator %q", clause.Operator), nil
		}
		left, found := ec.Value(clause.Variable)
		right := clause.Value
		if s, ok := right.(string); ok {
			if v, ok := ec.Value(s); ok {
				right = v
			}
		}

		ok := Evaluate(clause.Operator, left, found, right)
		evaluated = append(evaluated, clauseResult{
			Variable: clause.Variable,
			Operator: clause.Operator,
			Value:    clause.Value,
			Resolved: left,
			Result:   ok,
		})
		if mode == models.ConditionModeAll {
			result = result && ok
		} else {
			result = result || ok
		}
	}

	branch := engine.BranchFalse
	if result {
		branch = engine.BranchTrue
	}
	return engine.Success(map[string]any{
		"result":    result,
		"branch":    branch,
		"evaluated": evaluated,
	}), nil
}

func knownOperator(op models.ConditionOperator) bool {
	switch op {
	case models.OperatorEquals, models.OperatorNotEquals,
		models.OperatorGreaterThan, models.OperatorLessThan,
		models.OperatorGreaterOrEqual, models.OperatorLessOrEqual,
		models.OperatorContains, models.OperatorNotContains,
		models.OperatorStartsWith, models.OperatorEndsWith,
		models.OperatorIsEmpty, models.OperatorIsNotEmpty:
		return true
	}
	return false
}

// Evaluate applies one operator. An unresolved left side only satisfies isEmpty.
func Evaluate(op models.ConditionOperator, left any, found bool, right any) bool {
	switch op {
	case models.OperatorIsEmpty:
		return !found || isEmpty(left)
	case models.OperatorIsNotEmpty:
		return found && !isEmpty(left)
	}
	if !found {
		return false
	}

	switch op {
	case models.OperatorEquals:
		return equal(left, right)
	case models.OperatorNotEquals:
		return !equal(left, right)
	case models.OperatorGreaterThan, models.OperatorLessThan, models.OperatorGreaterOrEqual, models.OperatorLessOrEqual:
		l, ok := toNumber(left)
		if !ok {
			return false
		}
		r, ok := toNumber(right)
		if !ok {
			return false
		}
		switch op {
		case models.OperatorGreaterThan:
			return l > r
		case models.OperatorLessThan:
			return l < r
		case models.OperatorGreaterOrEqual:
			return l >= r
		default:
			return l <= r
		}
	case models.OperatorContains:
		return contains(left, right)
	case models.OperatorNotContains:
		return !contains(left, right)
	case models.OperatorStartsWith:
		return strings.HasPrefix(resolver.Stringify(left), resolver.Stringify(right))
	case models.OperatorEndsWith:
		return strings.HasSuffix(resolver.Stringify(left), resolver.Stringify(right))
	}
	return false
}

func equal(left, right any) bool {
	return reflect.DeepEqual(jsonShape(left), jsonShape(right))
}

func contains(left, right any) bool {
	switch l := jsonShape(left).(type) {
	case string:
		return strings.Contains(l, resolver.Stringify(right))
	case []any:
		for _, item := range l {
			if equal(item, right) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := l[resolver.Stringify(right)]
		return ok
	case nil:
		return false
	default:
		return strings.Contains(resolver.Stringify(l), resolver.Stringify(right))
	}
}

func isEmpty(v any) bool {
	switch x := jsonShape(v).(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch x := jsonShape(v).(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
