package enhance

import (
	"github.com/inkwell-ai/fabler/internal/quality"
)

// Strategy identifies one targeted refinement category.
type Strategy string

const (
	StrategyStructureFocus Strategy = "structure_focus"
	StrategyCoherenceFocus Strategy = "coherence_focus"
	StrategyCharacterFocus Strategy = "character_focus"
	StrategyGenreFocus     Strategy = "genre_focus"
	StrategyPacingFocus    Strategy = "pacing_focus"
	StrategyDialogueFocus  Strategy = "dialogue_focus"
	StrategySettingFocus   Strategy = "setting_focus"
	StrategyEmotionalFocus Strategy = "emotional_focus"
	StrategyTechnicalFocus Strategy = "technical_focus"
	StrategyComprehensive  Strategy = "comprehensive"
)

// DefaultWeakThreshold is the score below which a dimension is considered
// weak enough to target.
const DefaultWeakThreshold = 7.0

// strategyByDimension maps targetable dimensions to their focus strategy.
// Theme integration and originality have no dedicated strategy: when they
// are the only weak dimensions the comprehensive strategy covers them.
var strategyByDimension = map[quality.Dimension]Strategy{
	quality.DimStructure:            StrategyStructureFocus,
	quality.DimCoherence:            StrategyCoherenceFocus,
	quality.DimCharacterDevelopment: StrategyCharacterFocus,
	quality.DimGenreCompliance:      StrategyGenreFocus,
	quality.DimPacing:               StrategyPacingFocus,
	quality.DimDialogue:             StrategyDialogueFocus,
	quality.DimSettingImmersion:     StrategySettingFocus,
	quality.DimEmotionalImpact:      StrategyEmotionalFocus,
	quality.DimTechnical:            StrategyTechnicalFocus,
}

// Weights bias strategy selection per dimension. Higher weight means the
// dimension is targeted sooner at equal scores.
type Weights map[quality.Dimension]float64

// DefaultWeights returns the default enhancement weights.
func DefaultWeights() Weights {
	return Weights{
		quality.DimStructure:            1.0,
		quality.DimCoherence:            1.0,
		quality.DimCharacterDevelopment: 1.2,
		quality.DimGenreCompliance:      1.0,
		quality.DimPacing:               1.1,
		quality.DimDialogue:             0.9,
		quality.DimSettingImmersion:     0.8,
		quality.DimEmotionalImpact:      1.3,
		quality.DimOriginality:          0.7,
		quality.DimTechnical:            1.0,
	}
}

// Selector picks the refinement strategy for the next enhancement pass from
// the current quality vector.
type Selector struct {
	threshold float64
	weights   Weights
}

// NewSelector creates a Selector. A non-positive threshold or nil weights
// select the defaults.
func NewSelector(threshold float64, weights Weights) *Selector {
	if threshold <= 0 {
		threshold = DefaultWeakThreshold
	}
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Selector{threshold: threshold, weights: weights}
}

// Select returns the strategy targeting the weak dimension with the highest
// weighted priority (10 - score) * weight. With no weak targetable
// dimensions it falls back to the comprehensive strategy. Ties resolve by
// canonical dimension order.
func (s *Selector) Select(v *quality.Vector) Strategy {
	weak := v.WeakestDimensions(s.threshold)
	if len(weak) == 0 {
		return StrategyComprehensive
	}

	var (
		target   quality.Dimension
		bestPrio float64
		found    bool
	)
	for _, d := range quality.Dimensions() {
		if _, targetable := strategyByDimension[d]; !targetable {
			continue
		}
		if !contains(weak, d) {
			continue
		}
		w, ok := s.weights[d]
		if !ok {
			w = 1.0
		}
		prio := (10.0 - v.Score(d)) * w
		if !found || prio > bestPrio {
			target = d
			bestPrio = prio
			found = true
		}
	}
	if !found {
		return StrategyComprehensive
	}
	return strategyByDimension[target]
}

// FocusDimensions returns the dimensions a strategy concentrates on. The
// comprehensive strategy covers everything.
func FocusDimensions(s Strategy) []quality.Dimension {
	for d, strat := range strategyByDimension {
		if strat == s {
			return []quality.Dimension{d}
		}
	}
	return quality.Dimensions()
}

func contains(dims []quality.Dimension, d quality.Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}
