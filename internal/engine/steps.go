package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/inkwell-ai/fabler/internal/enhance"
	"github.com/inkwell-ai/fabler/internal/strategy"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// OutlineGuard is the default guard on the outline step: only outline-first
// strategies need one.
const OutlineGuard = `strategy in ["outline", "adaptive"]`

// DefaultPipeline assembles the standard seven-stage pipeline. The sink
// receives per-pass enhancement events and may be nil. opts tune the
// enhancement loop; zero values fall back to enhance.DefaultOptions.
func DefaultPipeline(svc Services, opts enhance.Options, sink EventSink) []StepDefinition {
	return []StepDefinition{
		{Stage: schema.StageAnalysis, Handler: &analysisStep{svc}, Retries: -1},
		{Stage: schema.StageStrategySelection, Handler: &strategyStep{svc}, Retries: -1},
		{Stage: schema.StageOutlineGeneration, Handler: &outlineStep{svc}, Optional: true, Condition: OutlineGuard, Retries: -1},
		{Stage: schema.StageContentGeneration, Handler: &generationStep{svc}, Retries: -1},
		{Stage: schema.StageQualityAssessment, Handler: &assessmentStep{svc}, Retries: -1},
		{Stage: schema.StageEnhancement, Handler: &enhancementStep{svc: svc, opts: opts, sink: sink}, Retries: 0},
		{Stage: schema.StageFinalization, Handler: &finalizationStep{svc}, Retries: -1},
	}
}

// analysisStep validates the requirements and derives the complexity analysis.
type analysisStep struct {
	svc Services
}

func (s *analysisStep) Run(ctx context.Context, rc *RunContext) error {
	if s.svc.Validator != nil {
		if err := s.svc.Validator.Validate(rc.Requirements); err != nil {
			return err
		}
	}
	rc.Analysis = s.svc.Selector.Analyze(rc.Requirements)
	return nil
}

// strategyStep picks the generation strategy for the run.
type strategyStep struct {
	svc Services
}

func (s *strategyStep) Run(ctx context.Context, rc *RunContext) error {
	rec, err := s.svc.Selector.Select(ctx, rc.Requirements)
	if err != nil {
		return err
	}
	rc.Recommendation = rec
	return nil
}

// outlineStep produces a structural outline for outline-first strategies.
type outlineStep struct {
	svc Services
}

func (s *outlineStep) Run(ctx context.Context, rc *RunContext) error {
	outline, err := s.svc.Generator.Outline(ctx, rc.Requirements, rc.Recommendation.Strategy)
	if err != nil {
		return err
	}
	rc.Outline = outline
	return nil
}

// generationStep produces the first draft.
type generationStep struct {
	svc Services
}

func (s *generationStep) Run(ctx context.Context, rc *RunContext) error {
	content, title, err := s.svc.Generator.Draft(ctx, rc.Requirements, rc.Recommendation.Strategy, rc.Outline)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return schema.NewError(schema.ErrCodeGeneration, "generator returned empty content")
	}
	rc.Content = content
	rc.Title = title
	return nil
}

// assessmentStep scores the draft on all quality dimensions.
type assessmentStep struct {
	svc Services
}

func (s *assessmentStep) Run(ctx context.Context, rc *RunContext) error {
	vec, err := s.svc.Assessor.Assess(ctx, rc.Content, rc.Requirements)
	if err != nil {
		return err
	}
	rc.Quality = vec
	return nil
}

// enhancementStep runs the iterative refinement loop, streaming per-pass
// progress to the sink.
type enhancementStep struct {
	svc  Services
	opts enhance.Options
	sink EventSink
}

func (s *enhancementStep) Run(ctx context.Context, rc *RunContext) error {
	opts := s.opts
	opts.InitialQuality = rc.Quality
	if s.sink != nil {
		opts.OnPassStart = func(number int) {
			s.sink.Publish(schema.ProgressEvent{
				RunID:     rc.RunID,
				Type:      schema.EventPassStarted,
				Stage:     schema.StageEnhancement,
				Pass:      number,
				Timestamp: time.Now(),
			})
		}
		opts.OnPass = func(p enhance.Pass) {
			s.sink.Publish(schema.ProgressEvent{
				RunID:     rc.RunID,
				Type:      schema.EventPassCompleted,
				Stage:     schema.StageEnhancement,
				Pass:      p.Number,
				Overall:   p.After.Overall(),
				Timestamp: time.Now(),
			})
		}
	}

	res, err := s.svc.Loop.Enhance(ctx, rc.Content, rc.Title, rc.Requirements, opts)
	if res != nil {
		// Even a failed loop hands back the best-known version.
		rc.Content = res.Content
		rc.Title = res.Title
		if res.Final != nil {
			rc.Quality = res.Final
		}
		rc.Enhancement = res
		rc.Passes = res.Passes
	}
	if err != nil {
		return err
	}

	if s.sink != nil {
		if res.Convergence.PlateauDetected || res.Convergence.DiminishingReturns {
			s.sink.Publish(schema.ProgressEvent{
				RunID:     rc.RunID,
				Type:      schema.EventConverged,
				Stage:     schema.StageEnhancement,
				Pass:      res.Convergence.ConvergencePass,
				Overall:   rc.Quality.Overall(),
				Timestamp: time.Now(),
			})
		}
		if res.TargetReached {
			s.sink.Publish(schema.ProgressEvent{
				RunID:     rc.RunID,
				Type:      schema.EventTargetReached,
				Stage:     schema.StageEnhancement,
				Overall:   rc.Quality.Overall(),
				Timestamp: time.Now(),
			})
		}
	}
	return nil
}

// finalizationStep settles the title, records the strategy outcome for future
// selections and persists the run summary.
type finalizationStep struct {
	svc Services
}

func (s *finalizationStep) Run(ctx context.Context, rc *RunContext) error {
	if strings.TrimSpace(rc.Title) == "" {
		rc.Title = defaultTitle(rc.Requirements.Genre)
	}

	if s.svc.Outcomes != nil && rc.Recommendation != nil {
		outcome := strategy.Outcome{
			Strategy:       rc.Recommendation.Strategy,
			Genre:          rc.Requirements.Genre,
			WordCount:      rc.Requirements.TargetWordCount,
			Success:        true,
			QualityScore:   rc.Quality.Overall(),
			GenerationTime: time.Since(rc.StartedAt),
			ErrorCount:     rc.ErrorCount,
		}
		if err := s.svc.Outcomes.RecordOutcome(ctx, outcome); err != nil {
			// Learning is best-effort; a full history store must not fail the run.
			slog.Default().WarnContext(ctx, "strategy outcome not recorded", slog.String("error", err.Error()))
		}
	}

	if s.svc.Runs != nil {
		rec := &RunRecord{
			RunID:           rc.RunID,
			Status:          schema.RunStatusCompleted,
			Title:           rc.Title,
			Genre:           rc.Requirements.Genre,
			Strategy:        rc.Recommendation.Strategy,
			TargetWordCount: rc.Requirements.TargetWordCount,
			WordCount:       rc.WordCount(),
			Overall:         rc.Quality.Overall(),
			Passes:          len(rc.Passes),
			StartedAt:       rc.StartedAt,
			CompletedAt:     time.Now(),
		}
		if err := s.svc.Runs.SaveRun(ctx, rec); err != nil {
			return schema.NewError(schema.ErrCodeStore, "persist run summary").WithCause(err)
		}
	}
	return nil
}

func defaultTitle(genre schema.Genre) string {
	name := strings.ReplaceAll(string(genre), "_", " ")
	if name == "" {
		return "Untitled Story"
	}
	return "Untitled " + name + " story"
}
