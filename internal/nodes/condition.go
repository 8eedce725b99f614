package nodes

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

// ConditionExecutor evaluates a boolean expression over the bindings.
type ConditionExecutor struct{}

func (*ConditionExecutor) Kind() nodeflow.NodeKind { return nodeflow.NodeKindCondition }
func (*ConditionExecutor) Capability() string      { return "" }

func (*ConditionExecutor) Validate(n *nodeflow.Node) error {
	expression := n.String("expression")
	if expression == "" {
		return fmt.Errorf("expression is required")
	}
	return CompileCondition(expression)
}

// Execute never fails: an expression that cannot be evaluated against the
// current bindings yields false.
func (*ConditionExecutor) Execute(_ context.Context, n *nodeflow.Node, vars nodeflow.Variables, caps Capabilities) (Outcome, error) {
	ok, err := EvaluateCondition(n.String("expression"), vars)
	if err != nil {
		caps.logger().Warn("condition evaluated as false", "node", n.ID, "err", err)
	}
	return Outcome{Output: ok}, nil
}

// CompileCondition checks expression syntax without binding types.
func CompileCondition(expression string) error {
	if _, err := expr.Compile(expression, expr.AllowUndefinedVariables()); err != nil {
		return fmt.Errorf("compile condition %q: %w", expression, err)
	}
	return nil
}

// EvaluateCondition evaluates expression against the bindings and coerces
// the result to a bool. An empty expression is true.
func EvaluateCondition(expression string, vars nodeflow.Variables) (bool, error) {
	if expression == "" {
		return true, nil
	}
	env := vars.Env()
	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return isTruthy(result), nil
}

func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
