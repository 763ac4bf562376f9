package engine

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// ConditionEvaluator evaluates step guard expressions against the run context.
// Guards are boolean expr-lang expressions over the selected strategy and the
// story requirements (e.g. `strategy in ["outline", "adaptive"]`).
// Thread-safe: compiled *vm.Program objects are cached and reused across runs.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator creates a new guard evaluator with an empty cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate compiles (or retrieves from cache) a guard expression and evaluates
// it against the given environment. A non-boolean result is a validation error.
func (e *ConditionEvaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := e.getOrCompile(expression, env)
	if err != nil {
		return false, err
	}

	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStepExecution,
			"guard evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	result, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"guard %q did not evaluate to a boolean (got %T)", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}

	return result, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
// The env map is used to infer the environment type for compilation.
func (e *ConditionEvaluator) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	if env == nil {
		env = map[string]any{}
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"guard compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// GuardEnv builds the expression environment for a step guard from the
// current run context.
func GuardEnv(rc *RunContext) map[string]any {
	env := map[string]any{
		"strategy":   "",
		"genre":      "",
		"word_count": 0,
		"passes":     len(rc.Passes),
	}
	if rc.Requirements != nil {
		env["genre"] = string(rc.Requirements.Genre)
		env["word_count"] = rc.Requirements.TargetWordCount
	}
	if rc.Recommendation != nil {
		env["strategy"] = string(rc.Recommendation.Strategy)
	}
	return env
}
