package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// expressionCostLimit bounds CEL evaluation cost so a pathological
// expression cannot stall webhook processing.
const expressionCostLimit = 1_000_000

// ExpressionEnv compiles and evaluates CEL expressions used by
// "expression" conditions. Compiled programs are cached per expression
// string; safe for concurrent use.
type ExpressionEnv struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewExpressionEnv creates the CEL environment. The time-entry payload
// is exposed as the dynamic variable "timeEntry".
func NewExpressionEnv() (*ExpressionEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("timeEntry", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ExpressionEnv{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// CheckExpression compiles an expression without evaluating it, so
// rule validation can reject broken expressions at save time. The
// compiled program is cached for later evaluation.
func (e *ExpressionEnv) CheckExpression(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate runs the expression against the given facts. Non-boolean
// results are treated as false.
func (e *ExpressionEnv) Evaluate(expr string, facts map[string]any) (bool, error) {
	prog, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prog.Eval(facts)
	if err != nil {
		return false, fmt.Errorf("expression evaluation error: %w", err)
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}

func (e *ExpressionEnv) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := e.env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()
	return prog, nil
}
