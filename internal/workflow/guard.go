package workflow

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/boxos/boxcore/pkg/schema"
)

// GuardEngine compiles and evaluates node guard expressions using
// expr-lang/expr. A guard decides at readiness time whether a node's event
// is submitted or the node is skipped. Compiled programs are cached by
// expression text.
type GuardEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewGuardEngine creates an empty guard engine.
func NewGuardEngine() *GuardEngine {
	return &GuardEngine{cache: make(map[string]*vm.Program)}
}

// Compile validates a guard expression without evaluating it. Called at
// registration so a broken guard fails the workflow up front, not mid-run.
func (g *GuardEngine) Compile(expression string) error {
	_, err := g.getOrCompile(expression)
	return err
}

// Evaluate runs a guard against the environment and returns its boolean
// verdict. A non-boolean result is an invalid-parameter error.
func (g *GuardEngine) Evaluate(expression string, env map[string]any) (bool, error) {
	prg, err := g.getOrCompile(expression)
	if err != nil {
		return false, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrInternal,
			"guard evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
	}
	verdict, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrInvalidParameter,
			"guard %q did not evaluate to a boolean", expression)
	}
	return verdict, nil
}

func (g *GuardEngine) getOrCompile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrInvalidParameter, "empty guard expression")
	}

	g.mu.RLock()
	if prg, ok := g.cache[expression]; ok {
		g.mu.RUnlock()
		return prg, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, ok := g.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrInvalidParameter,
			"guard compile error in %q: %s", expression, err.Error()).WithCause(err)
	}
	g.cache[expression] = prg
	return prg, nil
}
