package enhance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/inkwell-ai/fabler/internal/logging"
	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Reviser produces a revised version of the content following a refinement
// instruction. Each call may legitimately return different output for
// identical input.
type Reviser interface {
	Revise(ctx context.Context, content, title, instruction string, req *schema.Requirements) (newContent, newTitle string, err error)
}

// Assessor scores content into a quality vector.
type Assessor interface {
	Assess(ctx context.Context, content string, req *schema.Requirements) (*quality.Vector, error)
}

// Pass records one executed refinement iteration.
type Pass struct {
	Number        int              `json:"number"`
	Strategy      Strategy         `json:"strategy"`
	Before        *quality.Vector  `json:"-"`
	After         *quality.Vector  `json:"-"`
	Delta         float64          `json:"delta"`
	Elapsed       time.Duration    `json:"elapsed"`
	TokenEstimate int              `json:"token_estimate"`
}

// Result is the outcome of an enhancement loop run. Content and Title are
// the best-known version at the point the loop stopped.
type Result struct {
	Content       string          `json:"content"`
	Title         string          `json:"title"`
	Final         *quality.Vector `json:"-"`
	Passes        []Pass          `json:"passes"`
	Convergence   quality.State   `json:"convergence"`
	TargetReached bool            `json:"target_reached"`
}

// Options bound and tune an enhancement run.
type Options struct {
	Target               float64
	MaxPasses            int
	ConvergenceThreshold float64

	// InitialQuality skips the first assessment when the caller already
	// scored the content.
	InitialQuality *quality.Vector

	// OnPassStart and OnPass, when set, are invoked synchronously at the
	// start and end of every executed pass.
	OnPassStart func(number int)
	OnPass      func(Pass)
}

// DefaultOptions returns the loop defaults.
func DefaultOptions() Options {
	return Options{
		Target:               8.0,
		MaxPasses:            3,
		ConvergenceThreshold: quality.DefaultConvergenceThreshold,
	}
}

// Loop orchestrates repeated revise-and-rescore cycles bounded by a pass
// budget, a target score and convergence detection.
type Loop struct {
	assessor Assessor
	reviser  Reviser
	selector *Selector
	logger   *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(assessor Assessor, reviser Reviser, selector *Selector, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if selector == nil {
		selector = NewSelector(0, nil)
	}
	return &Loop{assessor: assessor, reviser: reviser, selector: selector, logger: logger}
}

// Enhance refines content until the target score, the pass budget or a
// convergence signal stops it.
//
// Failures of the reviser or assessor during a pass are not retried here;
// they abort the loop and the returned Result preserves the best-known prior
// content and quality alongside the error.
func (l *Loop) Enhance(ctx context.Context, content, title string, req *schema.Requirements, opts Options) (*Result, error) {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultOptions().MaxPasses
	}
	if opts.Target <= 0 {
		opts.Target = DefaultOptions().Target
	}

	currentVec := opts.InitialQuality
	if currentVec == nil {
		vec, err := l.assessor.Assess(ctx, content, req)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeAssessment, "initial assessment failed").WithCause(err)
		}
		currentVec = vec
	}

	tracker := quality.NewTracker(opts.ConvergenceThreshold)
	result := &Result{Content: content, Title: title, Final: currentVec}

	for passNum := 1; passNum <= opts.MaxPasses; passNum++ {
		if currentVec.Overall() >= opts.Target {
			result.TargetReached = true
			break
		}

		pctx := logging.WithPass(ctx, passNum)
		if opts.OnPassStart != nil {
			opts.OnPassStart(passNum)
		}
		strat := l.selector.Select(currentVec)
		l.logger.InfoContext(pctx, "enhancement pass starting",
			slog.String("strategy", string(strat)),
			slog.Float64("overall", currentVec.Overall()))

		start := time.Now()
		instruction := Instruction(strat, currentVec, req)
		newContent, newTitle, err := l.reviser.Revise(pctx, result.Content, result.Title, instruction, req)
		if err != nil {
			result.Convergence = tracker.Snapshot()
			return result, schema.NewErrorf(schema.ErrCodeEnhancement, "pass %d revision failed", passNum).WithCause(err)
		}
		if newTitle == "" {
			newTitle = result.Title
		}

		afterVec, err := l.assessor.Assess(pctx, newContent, req)
		if err != nil {
			result.Convergence = tracker.Snapshot()
			return result, schema.NewErrorf(schema.ErrCodeEnhancement, "pass %d re-assessment failed", passNum).WithCause(err)
		}

		delta := afterVec.Delta(currentVec)
		tracker.Record(delta)

		pass := Pass{
			Number:        passNum,
			Strategy:      strat,
			Before:        currentVec,
			After:         afterVec,
			Delta:         delta,
			Elapsed:       time.Since(start),
			TokenEstimate: estimateTokens(result.Content) + estimateTokens(newContent),
		}
		result.Passes = append(result.Passes, pass)
		if opts.OnPass != nil {
			opts.OnPass(pass)
		}

		l.logger.InfoContext(pctx, "enhancement pass completed",
			slog.Float64("delta", delta),
			slog.Float64("overall", afterVec.Overall()))

		if tracker.Converged() {
			// The converged pass's output is not adopted: improvement was
			// negligible, keep the prior version.
			break
		}

		result.Content = newContent
		result.Title = newTitle
		result.Final = afterVec
		currentVec = afterVec
	}

	result.TargetReached = result.TargetReached || currentVec.Overall() >= opts.Target
	result.Convergence = tracker.Snapshot()
	return result, nil
}

// estimateTokens approximates token usage from whitespace-separated words.
func estimateTokens(content string) int {
	return len(strings.Fields(content)) * 4 / 3
}
