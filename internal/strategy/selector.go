package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// genreComplexity maps genres to an inherent complexity factor. Genres
// outside the table use the default.
var genreComplexity = map[schema.Genre]float64{
	schema.GenreLiterary:       0.8,
	schema.GenreMystery:        0.7,
	schema.GenreScienceFiction: 0.9,
	schema.GenreFantasy:        0.9,
	schema.GenreRomance:        0.6,
}

const defaultGenreComplexity = 0.7

// Analysis is the complexity and feasibility assessment of a requirements
// document.
type Analysis struct {
	ComplexityScore    float64 `json:"complexity_score"`
	FeasibilityScore   float64 `json:"feasibility_score"`
	Difficulty         string  `json:"estimated_difficulty"`
	WordCountFactor    float64 `json:"word_count_factor"`
	GenreComplexity    float64 `json:"genre_complexity"`
	ThemeComplexity    float64 `json:"theme_complexity"`
	SettingSpecificity float64 `json:"setting_specificity"`
}

// Scored is one strategy's assessment against a requirements document.
type Scored struct {
	Strategy         schema.GenerationStrategy `json:"strategy"`
	Score            float64                   `json:"score"`
	Confidence       float64                   `json:"confidence"`
	Reasoning        string                    `json:"reasoning"`
	EstimatedTime    time.Duration             `json:"estimated_time"`
	EstimatedQuality float64                   `json:"estimated_quality"`
}

// Recommendation is the selector's output: the chosen strategy plus up to
// two ranked alternatives. Produced once per run, not mutated thereafter.
type Recommendation struct {
	Strategy         schema.GenerationStrategy `json:"strategy"`
	Confidence       float64                   `json:"confidence"`
	Reasoning        string                    `json:"reasoning"`
	EstimatedTime    time.Duration             `json:"estimated_time"`
	EstimatedQuality float64                   `json:"estimated_quality"`
	Analysis         Analysis                  `json:"analysis"`
	Alternatives     []Scored                  `json:"alternatives,omitempty"`
}

// Config tunes the selector.
type Config struct {
	SimpleStoryMaxWords int
	ComplexStoryMin     int
	EnableLearning      bool
}

// DefaultConfig returns the selector defaults.
func DefaultConfig() Config {
	return Config{
		SimpleStoryMaxWords: 1000,
		ComplexStoryMin:     1500,
		EnableLearning:      true,
	}
}

// Selector scores candidate generation strategies for a requirements
// document and returns a ranked recommendation, optionally informed by
// historical performance records.
type Selector struct {
	cfg    Config
	store  PerformanceStore
	logger *slog.Logger
}

// NewSelector creates a Selector. store may be nil to disable learning.
func NewSelector(cfg Config, store PerformanceStore, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SimpleStoryMaxWords == 0 {
		cfg.SimpleStoryMaxWords = 1000
	}
	if cfg.ComplexStoryMin == 0 {
		cfg.ComplexStoryMin = 1500
	}
	return &Selector{cfg: cfg, store: store, logger: logger}
}

// Select analyzes the requirements, scores every strategy and returns the
// top recommendation with up to two alternatives.
func (s *Selector) Select(ctx context.Context, req *schema.Requirements) (*Recommendation, error) {
	if req == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "requirements document is nil")
	}

	analysis := s.Analyze(req)
	scored := s.scoreAll(ctx, req, analysis)

	best := scored[0]
	for _, c := range scored[1:] {
		if c.Score > best.Score {
			best = c
		}
	}

	rec := &Recommendation{
		Strategy:         best.Strategy,
		Confidence:       best.Confidence,
		Reasoning:        best.Reasoning,
		EstimatedTime:    best.EstimatedTime,
		EstimatedQuality: best.EstimatedQuality,
		Analysis:         analysis,
	}
	for _, c := range rankedAlternatives(scored, best.Strategy) {
		rec.Alternatives = append(rec.Alternatives, c)
	}

	s.logger.InfoContext(ctx, "strategy selected",
		slog.String("strategy", string(rec.Strategy)),
		slog.Float64("confidence", rec.Confidence),
		slog.Float64("complexity", analysis.ComplexityScore))
	return rec, nil
}

// Analyze derives the complexity and feasibility signals from a requirements
// document.
func (s *Selector) Analyze(req *schema.Requirements) Analysis {
	wcFactor := wordCountComplexity(req.TargetWordCount)
	genre, ok := genreComplexity[req.Genre]
	if !ok {
		genre = defaultGenreComplexity
	}
	theme := themeComplexity(req.Theme)
	setting := settingSpecificity(req.Setting)

	complexity := (wcFactor + genre + theme + setting) / 4

	difficulty := "hard"
	switch {
	case complexity < 0.4:
		difficulty = "easy"
	case complexity < 0.7:
		difficulty = "medium"
	}

	return Analysis{
		ComplexityScore:    complexity,
		FeasibilityScore:   feasibility(req.TargetWordCount, complexity),
		Difficulty:         difficulty,
		WordCountFactor:    wcFactor,
		GenreComplexity:    genre,
		ThemeComplexity:    theme,
		SettingSpecificity: setting,
	}
}

// RecordOutcome persists a generation outcome for future selections.
func (s *Selector) RecordOutcome(ctx context.Context, o Outcome) error {
	if !s.cfg.EnableLearning || s.store == nil {
		return nil
	}
	return s.store.RecordOutcome(ctx, o)
}

func (s *Selector) scoreAll(ctx context.Context, req *schema.Requirements, a Analysis) []Scored {
	return []Scored{
		s.scoreDirect(ctx, req, a),
		s.scoreOutline(ctx, req, a),
		s.scoreIterative(ctx, req, a),
		s.scoreAdaptive(ctx, req, a),
	}
}

func (s *Selector) scoreDirect(ctx context.Context, req *schema.Requirements, a Analysis) Scored {
	score := 0.7 - a.ComplexityScore*0.3
	if req.TargetWordCount <= s.cfg.SimpleStoryMaxWords {
		score += 0.2
	}
	score += s.historicalBonus(ctx, schema.StrategyDirect, req)

	kind := "moderately complex"
	if a.ComplexityScore < 0.5 {
		kind = "simple"
	}
	return Scored{
		Strategy:         schema.StrategyDirect,
		Score:            score,
		Confidence:       clamp(score, 0.3, 0.9),
		Reasoning:        fmt.Sprintf("direct strategy suitable for %s requirements", kind),
		EstimatedTime:    estSeconds(60, 0.02, req.TargetWordCount),
		EstimatedQuality: 7.0 - a.ComplexityScore*2.0,
	}
}

func (s *Selector) scoreOutline(ctx context.Context, req *schema.Requirements, a Analysis) Scored {
	complexityBonus := a.ComplexityScore * 0.4
	if complexityBonus > 0.3 {
		complexityBonus = 0.3
	}
	structureBonus := 0.1
	if req.Genre == schema.GenreMystery || req.Genre == schema.GenreLiterary {
		structureBonus = 0.2
	}
	score := 0.8 + complexityBonus + structureBonus
	score += s.historicalBonus(ctx, schema.StrategyOutline, req)

	return Scored{
		Strategy:         schema.StrategyOutline,
		Score:            score,
		Confidence:       clamp(score, 0.4, 0.95),
		Reasoning:        "outline strategy provides structure for well-planned narratives",
		EstimatedTime:    estSeconds(120, 0.03, req.TargetWordCount),
		EstimatedQuality: 7.5 + a.ComplexityScore*1.0,
	}
}

func (s *Selector) scoreIterative(ctx context.Context, req *schema.Requirements, a Analysis) Scored {
	qualityBonus := 0.1
	if req.TargetWordCount >= s.cfg.ComplexStoryMin {
		qualityBonus = 0.5
	}
	lengthBonus := 0.0
	if req.TargetWordCount >= 1800 {
		lengthBonus = 0.3
	}
	score := 0.7 + a.ComplexityScore*0.7 + qualityBonus + lengthBonus - 0.05
	score += s.historicalBonus(ctx, schema.StrategyIterative, req)

	return Scored{
		Strategy:         schema.StrategyIterative,
		Score:            score,
		Confidence:       clamp(score, 0.3, 0.95),
		Reasoning:        "iterative strategy yields the highest quality through refinement passes, especially for longer pieces",
		EstimatedTime:    estSeconds(240, 0.05, req.TargetWordCount),
		EstimatedQuality: 8.0 + a.ComplexityScore*0.5,
	}
}

func (s *Selector) scoreAdaptive(ctx context.Context, req *schema.Requirements, a Analysis) Scored {
	score := 0.75
	if a.ComplexityScore >= 0.4 && a.ComplexityScore <= 0.7 {
		score += 0.1
	}
	score += s.historicalBonus(ctx, schema.StrategyAdaptive, req)

	return Scored{
		Strategy:         schema.StrategyAdaptive,
		Score:            score,
		Confidence:       clamp(score, 0.5, 0.85),
		Reasoning:        "adaptive strategy adjusts the approach as the content develops",
		EstimatedTime:    estSeconds(150, 0.035, req.TargetWordCount),
		EstimatedQuality: 7.2 + a.ComplexityScore*0.8,
	}
}

// historicalBonus rewards strategies that performed well on similar requests.
// Store failures degrade to no bonus rather than failing the selection.
func (s *Selector) historicalBonus(ctx context.Context, strategy schema.GenerationStrategy, req *schema.Requirements) float64 {
	if !s.cfg.EnableLearning || s.store == nil {
		return 0
	}

	similar, err := s.store.Similar(ctx, strategy, req.Genre, req.TargetWordCount)
	if err != nil {
		s.logger.WarnContext(ctx, "historical lookup failed",
			slog.String("strategy", string(strategy)), slog.Any("error", err))
		return 0
	}
	if len(similar) == 0 {
		return 0
	}

	stats := ComputeStats(similar)
	bonus := (stats.SuccessRate-0.8)*0.2 + (stats.AvgQuality-7.0)*0.05
	return clamp(bonus, -0.1, 0.2)
}

func rankedAlternatives(scored []Scored, winner schema.GenerationStrategy) []Scored {
	var rest []Scored
	for _, c := range scored {
		if c.Strategy != winner {
			rest = append(rest, c)
		}
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if rest[j].Score > rest[i].Score {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	if len(rest) > 2 {
		rest = rest[:2]
	}
	return rest
}

func wordCountComplexity(wc int) float64 {
	switch {
	case wc <= 500:
		return 0.2
	case wc <= 1000:
		return 0.4
	case wc <= 1500:
		return 0.6
	case wc <= 3000:
		return 0.8
	case wc <= 5000:
		return 0.9
	default:
		return 1.0
	}
}

func themeComplexity(theme string) float64 {
	words := strings.Fields(strings.ToLower(theme))
	switch {
	case len(words) == 0:
		return 0.1
	case len(words) == 1:
		return 0.3
	case len(words) <= 3:
		return 0.5
	default:
		return 0.7
	}
}

func settingSpecificity(setting string) float64 {
	words := strings.Fields(strings.ToLower(setting))
	switch {
	case len(words) == 0:
		return 0.1
	case len(words) <= 2:
		return 0.3
	case len(words) <= 5:
		return 0.5
	default:
		return 0.7
	}
}

func feasibility(wc int, complexity float64) float64 {
	f := 0.9 - complexity*0.2
	if wc > 7000 {
		f -= 0.1
	} else if wc < 100 {
		f -= 0.2
	}
	return clamp(f, 0.1, 1.0)
}

func estSeconds(base, perWord float64, wc int) time.Duration {
	return time.Duration((base + perWord*float64(wc)) * float64(time.Second))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
