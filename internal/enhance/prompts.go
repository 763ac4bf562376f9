package enhance

import (
	"fmt"
	"strings"

	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

var strategyGuidance = map[Strategy]string{
	StrategyStructureFocus: `Focus on improving narrative structure:
- strengthen the story arc from opening through climax to resolution
- improve transitions between scenes
- ensure clear cause-and-effect progression`,

	StrategyCoherenceFocus: `Focus on improving logical coherence:
- eliminate plot holes and inconsistencies
- strengthen cause-and-effect relationships
- ensure character actions are well motivated`,

	StrategyCharacterFocus: `Focus on enhancing character development:
- deepen character motivations and personalities
- add growth and development arcs
- strengthen character relationships and interactions`,

	StrategyGenreFocus: `Focus on strengthening genre conventions:
- adhere to the conventions of the requested genre
- enhance genre-specific elements while meeting reader expectations
- balance innovation with genre requirements`,

	StrategyPacingFocus: `Focus on optimizing story pacing:
- improve rhythm and tension management
- balance action with reflection
- build tension effectively toward the climax`,

	StrategyDialogueFocus: `Focus on improving dialogue quality:
- make dialogue natural and authentic
- give each character a distinct voice
- use dialogue to advance plot and reveal character`,

	StrategySettingFocus: `Focus on enhancing setting immersion:
- create vivid, immersive descriptions
- integrate setting with mood and atmosphere
- balance description with action and dialogue`,

	StrategyEmotionalFocus: `Focus on increasing emotional impact:
- heighten emotional resonance and stakes
- use sensory detail to evoke emotion
- create moments of genuine connection`,

	StrategyTechnicalFocus: `Focus on improving technical quality:
- enhance prose style and word choice
- vary sentence structure
- eliminate grammatical errors and awkward phrasing`,

	StrategyComprehensive: `Comprehensive enhancement across all quality dimensions:
- focus on the weakest areas while maintaining strengths
- balance improvements across structure, character, dialogue and setting
- maintain genre conventions and thematic coherence`,
}

// Instruction builds the refinement instruction for a pass: the strategy
// guidance plus the current scores for its focus dimensions and the firm
// word-count requirement.
func Instruction(s Strategy, v *quality.Vector, req *schema.Requirements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Enhance this %s story. Maintain approximately %d words; this is a firm requirement.\n\n",
		req.Genre, req.TargetWordCount)
	fmt.Fprintf(&b, "Current overall quality score: %.1f/10\n", v.Overall())

	if s != StrategyComprehensive {
		for _, d := range FocusDimensions(s) {
			fmt.Fprintf(&b, "Current %s score: %.1f/10\n", d, v.Score(d))
		}
	}
	b.WriteString("\n")
	b.WriteString(strategyGuidance[s])
	return b.String()
}
