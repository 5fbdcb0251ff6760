package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates step conditions and input mapping expressions against
// an execution context.
type Evaluator interface {
	// EvaluateBool evaluates an expression that must yield a boolean.
	EvaluateBool(expression string, context map[string]any) (bool, error)

	// EvaluateValue evaluates an expression and returns its result.
	EvaluateValue(expression string, context map[string]any) (any, error)
}

// ExprEvaluator is an Evaluator built on expr-lang/expr with a compiled
// program cache keyed by expression text. Programs are compiled without a
// typed environment so a cached program is valid for any context shape.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.cache[expression] = program
	return program, nil
}

// EvaluateValue evaluates the given expression against the provided context.
func (e *ExprEvaluator) EvaluateValue(expression string, context map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, context)
}

// EvaluateBool evaluates the given expression against the provided context.
// The expression must evaluate to a boolean; otherwise, an error is returned.
func (e *ExprEvaluator) EvaluateBool(expression string, context map[string]any) (bool, error) {
	result, err := e.EvaluateValue(expression, context)
	if err != nil {
		return false, err
	}
	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
	}
	return boolResult, nil
}
