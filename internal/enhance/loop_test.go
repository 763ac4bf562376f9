package enhance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

func uniformVector(t *testing.T, s float64) *quality.Vector {
	t.Helper()
	scores := make(map[quality.Dimension]float64)
	for _, d := range quality.Dimensions() {
		scores[d] = s
	}
	v, err := quality.NewVector(scores)
	require.NoError(t, err)
	return v
}

// scriptedAssessor returns queued vectors in order.
type scriptedAssessor struct {
	vectors []*quality.Vector
	err     error
	calls   int
}

func (a *scriptedAssessor) Assess(ctx context.Context, content string, req *schema.Requirements) (*quality.Vector, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.calls >= len(a.vectors) {
		return a.vectors[len(a.vectors)-1], nil
	}
	v := a.vectors[a.calls]
	a.calls++
	return v, nil
}

// countingReviser returns numbered revisions.
type countingReviser struct {
	err   error
	calls int
}

func (r *countingReviser) Revise(ctx context.Context, content, title, instruction string, req *schema.Requirements) (string, string, error) {
	if r.err != nil {
		return "", "", r.err
	}
	r.calls++
	return fmt.Sprintf("revision %d", r.calls), title, nil
}

func testReq() *schema.Requirements {
	return &schema.Requirements{Genre: schema.GenreFantasy, TargetWordCount: 1000}
}

func TestEnhance_NoOpWhenTargetAlreadyMet(t *testing.T) {
	reviser := &countingReviser{}
	loop := NewLoop(&scriptedAssessor{}, reviser, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 8.5)

	res, err := loop.Enhance(context.Background(), "original", "Title", testReq(), opts)
	require.NoError(t, err)
	assert.True(t, res.TargetReached)
	assert.Empty(t, res.Passes)
	assert.Equal(t, "original", res.Content, "content unchanged")
	assert.Zero(t, reviser.calls)
}

func TestEnhance_PassBudgetExhausted(t *testing.T) {
	// steady improvement above threshold, never reaching the target
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 5.5),
		uniformVector(t, 6.0),
		uniformVector(t, 6.5),
	}}
	reviser := &countingReviser{}
	loop := NewLoop(assessor, reviser, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Passes, 3, "exactly max passes executed")
	assert.Equal(t, 3, reviser.calls)
	assert.False(t, res.TargetReached)
	assert.Equal(t, "revision 3", res.Content)
	assert.InDelta(t, 6.5, res.Final.Overall(), 1e-9)
}

func TestEnhance_StopsWhenTargetReachedMidLoop(t *testing.T) {
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 8.5),
	}}
	loop := NewLoop(assessor, &countingReviser{}, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Passes, 1)
	assert.True(t, res.TargetReached)
	assert.Equal(t, "revision 1", res.Content)
}

func TestEnhance_PlateauKeepsPriorVersion(t *testing.T) {
	// deltas: 1.0 then 0.05; the second pass converges and its output is
	// not adopted
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 6.0),
		uniformVector(t, 6.05),
	}}
	loop := NewLoop(assessor, &countingReviser{}, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Passes, 2)
	assert.True(t, res.Convergence.PlateauDetected)
	assert.Equal(t, 2, res.Convergence.ConvergencePass)
	assert.Equal(t, "revision 1", res.Content, "converged pass output discarded")
	assert.InDelta(t, 6.0, res.Final.Overall(), 1e-9)
}

func TestEnhance_DiminishingReturns(t *testing.T) {
	// deltas: 1.0 then 0.4 (< half of 1.0)
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 6.0),
		uniformVector(t, 6.4),
	}}
	loop := NewLoop(assessor, &countingReviser{}, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Passes, 2)
	assert.True(t, res.Convergence.DiminishingReturns)
	assert.False(t, res.Convergence.PlateauDetected)
}

func TestEnhance_ReviserFailurePreservesBestKnown(t *testing.T) {
	loop := NewLoop(&scriptedAssessor{}, &countingReviser{err: errors.New("model down")}, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.Error(t, err)

	var fErr *schema.FablerError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, schema.ErrCodeEnhancement, fErr.Code)

	require.NotNil(t, res)
	assert.Equal(t, "draft", res.Content, "original content preserved")
	assert.InDelta(t, 5.0, res.Final.Overall(), 1e-9)
}

func TestEnhance_ReassessmentFailureAborts(t *testing.T) {
	assessor := &scriptedAssessor{err: errors.New("scorer down")}
	loop := NewLoop(assessor, &countingReviser{}, nil, nil)

	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.Error(t, err)

	var fErr *schema.FablerError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, schema.ErrCodeEnhancement, fErr.Code)
	assert.Equal(t, "draft", res.Content)
}

func TestEnhance_InitialAssessmentWhenNotProvided(t *testing.T) {
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 9.0), // initial assessment already above target
	}}
	reviser := &countingReviser{}
	loop := NewLoop(assessor, reviser, nil, nil)

	res, err := loop.Enhance(context.Background(), "draft", "T", testReq(), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.TargetReached)
	assert.Zero(t, reviser.calls)
}

func TestEnhance_OnPassCallback(t *testing.T) {
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 5.5),
		uniformVector(t, 6.0),
		uniformVector(t, 6.5),
	}}
	loop := NewLoop(assessor, &countingReviser{}, nil, nil)

	var seen []int
	opts := DefaultOptions()
	opts.InitialQuality = uniformVector(t, 5.0)
	opts.OnPass = func(p Pass) { seen = append(seen, p.Number) }

	_, err := loop.Enhance(context.Background(), "draft", "T", testReq(), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestEnhance_PassBookkeeping(t *testing.T) {
	assessor := &scriptedAssessor{vectors: []*quality.Vector{
		uniformVector(t, 6.0),
	}}
	loop := NewLoop(assessor, &countingReviser{}, nil, nil)

	opts := DefaultOptions()
	opts.MaxPasses = 1
	opts.InitialQuality = uniformVector(t, 5.0)

	res, err := loop.Enhance(context.Background(), "one two three four", "T", testReq(), opts)
	require.NoError(t, err)
	require.Len(t, res.Passes, 1)

	p := res.Passes[0]
	assert.Equal(t, 1, p.Number)
	assert.InDelta(t, 1.0, p.Delta, 1e-9)
	assert.InDelta(t, 5.0, p.Before.Overall(), 1e-9)
	assert.InDelta(t, 6.0, p.After.Overall(), 1e-9)
	assert.Positive(t, p.TokenEstimate)
}
