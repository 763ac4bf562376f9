package schema

// Genre enumerates story genres. The set is open: unknown genres validate
// but fall back to default complexity handling downstream.
type Genre string

const (
	GenreLiterary       Genre = "literary"
	GenreMystery        Genre = "mystery"
	GenreScienceFiction Genre = "science_fiction"
	GenreFantasy        Genre = "fantasy"
	GenreRomance        Genre = "romance"
	GenreThriller       Genre = "thriller"
	GenreHorror         Genre = "horror"
	GenreHistorical     Genre = "historical"
	GenreAdventure      Genre = "adventure"
	GenreDrama          Genre = "drama"
)

// GenerationStrategy enumerates the approaches for producing a first draft.
type GenerationStrategy string

const (
	StrategyDirect    GenerationStrategy = "direct"
	StrategyOutline   GenerationStrategy = "outline"
	StrategyIterative GenerationStrategy = "iterative"
	StrategyAdaptive  GenerationStrategy = "adaptive"
)

// GenerationStrategies lists all generation strategies.
func GenerationStrategies() []GenerationStrategy {
	return []GenerationStrategy{StrategyDirect, StrategyOutline, StrategyIterative, StrategyAdaptive}
}

// Requirements is the input document for a generation run.
type Requirements struct {
	Title           string   `json:"title,omitempty"`
	Genre           Genre    `json:"genre"`
	TargetWordCount int      `json:"target_word_count"`
	Theme           string   `json:"theme,omitempty"`
	Setting         string   `json:"setting,omitempty"`
	Tone            string   `json:"tone,omitempty"`
	Characters      []string `json:"characters,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}
