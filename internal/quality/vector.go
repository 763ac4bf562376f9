package quality

import (
	"sort"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Dimension identifies one scored quality axis.
type Dimension string

const (
	DimStructure            Dimension = "structure"
	DimCoherence            Dimension = "coherence"
	DimCharacterDevelopment Dimension = "character_development"
	DimGenreCompliance      Dimension = "genre_compliance"
	DimPacing               Dimension = "pacing"
	DimThemeIntegration     Dimension = "theme_integration"
	DimDialogue             Dimension = "dialogue"
	DimSettingImmersion     Dimension = "setting_immersion"
	DimEmotionalImpact      Dimension = "emotional_impact"
	DimOriginality          Dimension = "originality"
	DimTechnical            Dimension = "technical"
)

// dimensionOrder is the canonical ordering, used for deterministic iteration
// and tie-breaking.
var dimensionOrder = []Dimension{
	DimStructure,
	DimCoherence,
	DimCharacterDevelopment,
	DimGenreCompliance,
	DimPacing,
	DimThemeIntegration,
	DimDialogue,
	DimSettingImmersion,
	DimEmotionalImpact,
	DimOriginality,
	DimTechnical,
}

// overallWeights are the fixed weights for the overall score. They sum to 1.0.
var overallWeights = map[Dimension]float64{
	DimStructure:            0.12,
	DimCoherence:            0.10,
	DimCharacterDevelopment: 0.12,
	DimGenreCompliance:      0.08,
	DimPacing:               0.10,
	DimThemeIntegration:     0.08,
	DimDialogue:             0.10,
	DimSettingImmersion:     0.08,
	DimEmotionalImpact:      0.12,
	DimOriginality:          0.06,
	DimTechnical:            0.04,
}

// Dimensions returns all dimensions in canonical order.
func Dimensions() []Dimension {
	out := make([]Dimension, len(dimensionOrder))
	copy(out, dimensionOrder)
	return out
}

// Weight returns the overall-score weight for a dimension, 0 for unknown tags.
func Weight(d Dimension) float64 {
	return overallWeights[d]
}

// Vector is an immutable snapshot of per-dimension scores for one piece of
// content at one point in time. Every score lies in [0,10].
type Vector struct {
	scores map[Dimension]float64
}

// NewVector builds a Vector from a complete score map. A missing dimension,
// an unknown dimension, or a score outside [0,10] is a contract violation
// and returns a VALIDATION_ERROR rather than being clamped silently.
func NewVector(scores map[Dimension]float64) (*Vector, error) {
	for d := range scores {
		if _, ok := overallWeights[d]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown quality dimension %q", d)
		}
	}
	out := make(map[Dimension]float64, len(dimensionOrder))
	for _, d := range dimensionOrder {
		s, ok := scores[d]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "missing score for dimension %q", d)
		}
		if s < 0 || s > 10 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"score %.2f for dimension %q outside [0,10]", s, d)
		}
		out[d] = s
	}
	return &Vector{scores: out}, nil
}

// Score returns the score for a dimension.
func (v *Vector) Score(d Dimension) float64 {
	return v.scores[d]
}

// Scores returns a copy of the per-dimension scores.
func (v *Vector) Scores() map[Dimension]float64 {
	out := make(map[Dimension]float64, len(v.scores))
	for d, s := range v.scores {
		out[d] = s
	}
	return out
}

// Overall computes the weighted overall score. Weights sum to 1.0, so the
// result also lies in [0,10].
func (v *Vector) Overall() float64 {
	var total float64
	for d, s := range v.scores {
		total += s * overallWeights[d]
	}
	return total
}

// WeakestDimensions returns the dimensions scoring strictly below threshold,
// weakest first. Equal scores resolve by canonical dimension order.
func (v *Vector) WeakestDimensions(threshold float64) []Dimension {
	order := make(map[Dimension]int, len(dimensionOrder))
	for i, d := range dimensionOrder {
		order[d] = i
	}

	var weak []Dimension
	for _, d := range dimensionOrder {
		if v.scores[d] < threshold {
			weak = append(weak, d)
		}
	}
	sort.SliceStable(weak, func(i, j int) bool {
		si, sj := v.scores[weak[i]], v.scores[weak[j]]
		if si != sj {
			return si < sj
		}
		return order[weak[i]] < order[weak[j]]
	})
	return weak
}

// ImprovementPotential returns, per dimension, the gap to the target score,
// clamped at 0 for dimensions already at or above it.
func (v *Vector) ImprovementPotential(target float64) map[Dimension]float64 {
	out := make(map[Dimension]float64, len(v.scores))
	for d, s := range v.scores {
		gap := target - s
		if gap < 0 {
			gap = 0
		}
		out[d] = gap
	}
	return out
}

// Delta returns the overall-score difference against a previous vector.
func (v *Vector) Delta(prev *Vector) float64 {
	if prev == nil {
		return v.Overall()
	}
	return v.Overall() - prev.Overall()
}
