package quality

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Scorer produces scores in [0,10] for the requested dimensions. Each
// dimension is independently computable, which lets the assessor fan calls
// out in parallel.
type Scorer interface {
	ScoreDimensions(ctx context.Context, content string, req *schema.Requirements, dims []Dimension) (map[Dimension]float64, error)
}

// Assessor turns content into a QualityVector by fanning dimension groups out
// to the Scorer. Any scorer failure or out-of-range score aborts the whole
// assessment: partial vectors are never produced.
type Assessor struct {
	scorer    Scorer
	groupSize int
}

// NewAssessor creates an Assessor. groupSize controls how many dimensions are
// scored per scorer call; values below 1 score everything in one call.
func NewAssessor(scorer Scorer, groupSize int) *Assessor {
	if groupSize < 1 {
		groupSize = len(dimensionOrder)
	}
	return &Assessor{scorer: scorer, groupSize: groupSize}
}

// Assess scores all dimensions of the given content.
func (a *Assessor) Assess(ctx context.Context, content string, req *schema.Requirements) (*Vector, error) {
	if content == "" {
		return nil, schema.NewError(schema.ErrCodeAssessment, "no content to assess")
	}

	groups := a.groups()

	var mu sync.Mutex
	scores := make(map[Dimension]float64, len(dimensionOrder))

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			got, err := a.scorer.ScoreDimensions(gctx, content, req, group)
			if err != nil {
				return schema.NewError(schema.ErrCodeAssessment, "scoring call failed").WithCause(err)
			}
			for _, d := range group {
				s, ok := got[d]
				if !ok {
					return schema.NewErrorf(schema.ErrCodeAssessment, "scorer returned no score for %q", d)
				}
				if s < 0 || s > 10 {
					return schema.NewErrorf(schema.ErrCodeAssessment,
						"scorer returned %.2f for %q, outside [0,10]", s, d)
				}
				mu.Lock()
				scores[d] = s
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vec, err := NewVector(scores)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAssessment, "assembling quality vector").WithCause(err)
	}
	return vec, nil
}

func (a *Assessor) groups() [][]Dimension {
	all := Dimensions()
	var groups [][]Dimension
	for start := 0; start < len(all); start += a.groupSize {
		end := start + a.groupSize
		if end > len(all) {
			end = len(all)
		}
		groups = append(groups, all[start:end])
	}
	return groups
}
