package genai

import (
	"fmt"
	"strings"

	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

const writerSystemPrompt = `You are a professional short story writer with expertise in crafting compelling narratives.

Quality standards:
- Structure: clear beginning, middle and end with proper pacing
- Character development: believable, consistent characters with growth
- Genre compliance: adherence to genre conventions and expectations
- Coherence: logical flow and consistency throughout
- Emotional impact: engaging, emotionally resonant storytelling
- Technical quality: excellent grammar, style and prose

Always respond with a single JSON object and nothing else.`

const criticSystemPrompt = `You are a rigorous fiction editor. You score stories on named quality dimensions from 0 to 10, where 0 is unpublishable and 10 is flawless professional work. You are consistent and unsentimental.

Always respond with a single JSON object and nothing else.`

// DraftPrompt builds the user prompt for first-draft generation. A non-empty
// outline is included as the structural plan to follow.
func DraftPrompt(req *schema.Requirements, strat schema.GenerationStrategy, outline string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s short story of approximately %d words.\n",
		genreName(req.Genre), req.TargetWordCount)

	if req.Title != "" {
		fmt.Fprintf(&b, "Working title: %s\n", req.Title)
	}
	if req.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", req.Theme)
	}
	if req.Setting != "" {
		fmt.Fprintf(&b, "Setting: %s\n", req.Setting)
	}
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	if len(req.Characters) > 0 {
		fmt.Fprintf(&b, "Characters: %s\n", strings.Join(req.Characters, ", "))
	}
	if req.Notes != "" {
		fmt.Fprintf(&b, "Additional notes: %s\n", req.Notes)
	}
	if outline != "" {
		fmt.Fprintf(&b, "\nFollow this outline:\n%s\n", outline)
	}
	if strat == schema.StrategyIterative {
		b.WriteString("\nThis draft will be refined in later passes; prioritize a complete, coherent narrative over polish.\n")
	}

	b.WriteString("\nRequirements:\n")
	fmt.Fprintf(&b, "- Genre: %s\n", genreName(req.Genre))
	fmt.Fprintf(&b, "- Target word count: %d\n", req.TargetWordCount)
	b.WriteString("- Complete story with beginning, middle, and end\n")
	b.WriteString("- Engaging characters and compelling plot\n")
	b.WriteString("- Professional quality prose\n")
	b.WriteString("\nRespond with JSON: {\"title\": string, \"content\": string}")
	return b.String()
}

// OutlinePrompt builds the user prompt for the structural outline.
func OutlinePrompt(req *schema.Requirements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a structural outline for a %s short story of approximately %d words.\n",
		genreName(req.Genre), req.TargetWordCount)
	if req.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", req.Theme)
	}
	if req.Setting != "" {
		fmt.Fprintf(&b, "Setting: %s\n", req.Setting)
	}
	if len(req.Characters) > 0 {
		fmt.Fprintf(&b, "Characters: %s\n", strings.Join(req.Characters, ", "))
	}
	b.WriteString("\nList the major beats in order: opening situation, complications, climax, resolution.\n")
	b.WriteString("\nRespond with JSON: {\"outline\": string}")
	return b.String()
}

// RevisionPrompt builds the user prompt for an enhancement pass. instruction
// comes from the enhancement strategy selector.
func RevisionPrompt(content, title, instruction string, req *schema.Requirements) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nCurrent title: ")
	b.WriteString(title)
	b.WriteString("\n\nCurrent story:\n")
	b.WriteString(content)
	b.WriteString("\n\nRespond with JSON: {\"title\": string, \"content\": string}")
	return b.String()
}

// ScorePrompt builds the user prompt asking for scores on the given dimensions.
func ScorePrompt(content string, req *schema.Requirements, dims []quality.Dimension) string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = string(d)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Score this %s story (target length %d words) on the following dimensions, each 0 to 10:\n",
		genreName(req.Genre), req.TargetWordCount)
	fmt.Fprintf(&b, "%s\n", strings.Join(names, ", "))
	b.WriteString("\nStory:\n")
	b.WriteString(content)
	b.WriteString("\n\nRespond with JSON: {\"scores\": {\"<dimension>\": number, ...}}")
	return b.String()
}

func genreName(g schema.Genre) string {
	return strings.ReplaceAll(string(g), "_", " ")
}
