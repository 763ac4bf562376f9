package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fabler/internal/strategy"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

func TestConditionEvaluator_EmptyExpressionPasses(t *testing.T) {
	e := NewConditionEvaluator()
	ok, err := e.Evaluate("", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionEvaluator_OutlineGuard(t *testing.T) {
	e := NewConditionEvaluator()

	ok, err := e.Evaluate(OutlineGuard, map[string]any{"strategy": "outline"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(OutlineGuard, map[string]any{"strategy": "adaptive"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(OutlineGuard, map[string]any{"strategy": "direct"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionEvaluator_WordCountGuard(t *testing.T) {
	e := NewConditionEvaluator()
	ok, err := e.Evaluate(`word_count > 1500 && genre == "mystery"`, map[string]any{
		"word_count": 2000,
		"genre":      "mystery",
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionEvaluator_NonBooleanResult(t *testing.T) {
	e := NewConditionEvaluator()
	_, err := e.Evaluate(`word_count + 1`, map[string]any{"word_count": 10})
	require.Error(t, err)

	var fe *schema.FablerError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestConditionEvaluator_CompileError(t *testing.T) {
	e := NewConditionEvaluator()
	_, err := e.Evaluate(`strategy in [`, map[string]any{"strategy": "direct"})
	require.Error(t, err)

	var fe *schema.FablerError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestConditionEvaluator_CacheReuse(t *testing.T) {
	e := NewConditionEvaluator()
	env := map[string]any{"strategy": "outline"}

	_, err := e.Evaluate(OutlineGuard, env)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)

	_, err = e.Evaluate(OutlineGuard, env)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestGuardEnv_FromRunContext(t *testing.T) {
	rc := &RunContext{
		Requirements: &schema.Requirements{
			Genre:           schema.GenreMystery,
			TargetWordCount: 1200,
		},
		Recommendation: &strategy.Recommendation{Strategy: schema.StrategyOutline},
	}

	env := GuardEnv(rc)
	assert.Equal(t, "outline", env["strategy"])
	assert.Equal(t, "mystery", env["genre"])
	assert.Equal(t, 1200, env["word_count"])
	assert.Equal(t, 0, env["passes"])
}

func TestGuardEnv_BeforeStrategySelection(t *testing.T) {
	rc := &RunContext{Requirements: &schema.Requirements{Genre: schema.GenreFantasy, TargetWordCount: 900}}

	env := GuardEnv(rc)
	assert.Equal(t, "", env["strategy"])
	assert.Equal(t, 900, env["word_count"])
}
