package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/fabler/internal/logging"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Config tunes run execution.
type Config struct {
	// StepTimeout bounds a single step attempt. Zero disables the bound.
	StepTimeout time.Duration
	// StepRetries is the default retry budget per step.
	StepRetries int
	// MaxRunTime bounds the whole run, retries and backoff included.
	MaxRunTime time.Duration
}

// DefaultConfig returns the standard execution bounds.
func DefaultConfig() Config {
	return Config{
		StepTimeout: 60 * time.Second,
		StepRetries: 2,
		MaxRunTime:  300 * time.Second,
	}
}

// Engine drives a pipeline of steps through their lifecycle: guards, per-step
// timeouts, retries with exponential backoff, run and step state machines,
// and progress events.
type Engine struct {
	cfg        Config
	steps      []StepDefinition
	sink       EventSink
	conditions *ConditionEvaluator
	logger     *slog.Logger
}

// New creates an Engine over the given step pipeline. sink may be nil when no
// subscriber cares about progress.
func New(cfg Config, steps []StepDefinition, sink EventSink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StepTimeout == 0 && cfg.StepRetries == 0 && cfg.MaxRunTime == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:        cfg,
		steps:      steps,
		sink:       sink,
		conditions: NewConditionEvaluator(),
		logger:     logger,
	}
}

// progressSink enriches lifecycle events with the run's completion ratio
// before forwarding them to the subscriber-facing sink.
type progressSink struct {
	inner     EventSink
	total     int
	completed atomic.Int64
}

func (s *progressSink) Publish(ev schema.ProgressEvent) {
	if s.inner == nil {
		return
	}
	if s.total > 0 {
		ev.Progress = float64(s.completed.Load()) / float64(s.total)
	}
	s.inner.Publish(ev)
}

// Execute runs the full pipeline for the given requirements. The returned
// RunResult is non-nil even on failure and carries whatever the run produced
// before it stopped.
func (e *Engine) Execute(ctx context.Context, req *schema.Requirements) (*RunResult, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	runCtx := ctx
	if e.cfg.MaxRunTime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxRunTime)
		defer cancel()
	}

	sink := &progressSink{inner: e.sink, total: len(e.steps)}
	runFSM := NewRunFSM(sink)
	stepFSM := NewStepFSM(sink)

	// Every transition that settles a step advances the completion ratio.
	// Registered as before-hooks so the emitted event already carries the
	// updated progress.
	countStep := func(string, string) error {
		sink.completed.Add(1)
		return nil
	}
	stepFSM.OnBefore(schema.StepStatusRunning, schema.StepStatusCompleted, countStep)
	stepFSM.OnBefore(schema.StepStatusRunning, schema.StepStatusSkipped, countStep)
	stepFSM.OnBefore(schema.StepStatusPending, schema.StepStatusSkipped, countStep)

	rc := &RunContext{
		RunID:        runID,
		Requirements: req,
		StartedAt:    time.Now(),
		StageElapsed: make(map[schema.Stage]time.Duration),
	}
	result := &RunResult{
		RunID:     runID,
		Status:    schema.RunStatusPending,
		StartedAt: rc.StartedAt,
	}

	if err := runFSM.Transition(runID, schema.RunStatusPending, schema.RunStatusActive); err != nil {
		return result, err
	}
	result.Status = schema.RunStatusActive
	e.logger.InfoContext(runCtx, "run started", slog.Int("steps", len(e.steps)))

	stepStates := make(map[schema.Stage]schema.StepStatus, len(e.steps))
	for _, step := range e.steps {
		stepStates[step.Stage] = schema.StepStatusPending
	}

	for _, step := range e.steps {
		stageCtx := logging.WithStage(runCtx, string(step.Stage))

		if step.Condition != "" {
			pass, err := e.conditions.Evaluate(step.Condition, GuardEnv(rc))
			if err != nil {
				return e.failRun(stageCtx, runFSM, stepFSM, rc, result, step, stepStates, err)
			}
			if !pass {
				if err := stepFSM.Transition(runID, step.Stage, schema.StepStatusPending, schema.StepStatusSkipped); err != nil {
					return e.failRun(stageCtx, runFSM, stepFSM, rc, result, step, stepStates, err)
				}
				stepStates[step.Stage] = schema.StepStatusSkipped
				result.Steps = append(result.Steps, StepResult{Stage: step.Stage, Status: schema.StepStatusSkipped})
				e.logger.InfoContext(stageCtx, "step skipped", slog.String("guard", step.Condition))
				continue
			}
		}

		if err := stepFSM.Transition(runID, step.Stage, schema.StepStatusPending, schema.StepStatusRunning); err != nil {
			return e.failRun(stageCtx, runFSM, stepFSM, rc, result, step, stepStates, err)
		}
		stepStates[step.Stage] = schema.StepStatusRunning

		start := time.Now()
		attempts, execErr := e.runWithRetry(stageCtx, runID, stepFSM, step, rc)
		elapsed := time.Since(start)
		rc.StageElapsed[step.Stage] = elapsed

		if execErr != nil {
			rc.ErrorCount += attempts
			if budgetErr := e.budgetError(ctx, runCtx, step, execErr); budgetErr != nil {
				execErr = budgetErr
			}

			if step.Optional && !isRunFatal(execErr) {
				if err := stepFSM.Transition(runID, step.Stage, schema.StepStatusRunning, schema.StepStatusSkipped); err != nil {
					return e.failRun(stageCtx, runFSM, stepFSM, rc, result, step, stepStates, err)
				}
				stepStates[step.Stage] = schema.StepStatusSkipped
				result.Steps = append(result.Steps, StepResult{
					Stage:    step.Stage,
					Status:   schema.StepStatusSkipped,
					Attempts: attempts,
					Duration: elapsed,
					Error:    execErr.Error(),
				})
				e.logger.WarnContext(stageCtx, "optional step failed, continuing",
					slog.Int("attempts", attempts), slog.String("error", execErr.Error()))
				continue
			}

			result.Steps = append(result.Steps, StepResult{
				Stage:    step.Stage,
				Status:   schema.StepStatusFailed,
				Attempts: attempts,
				Duration: elapsed,
				Error:    execErr.Error(),
			})
			return e.failRun(stageCtx, runFSM, stepFSM, rc, result, step, stepStates, execErr)
		}

		if err := stepFSM.Transition(runID, step.Stage, schema.StepStatusRunning, schema.StepStatusCompleted); err != nil {
			return e.failRun(stageCtx, runFSM, stepFSM, rc, result, step, stepStates, err)
		}
		stepStates[step.Stage] = schema.StepStatusCompleted
		result.Steps = append(result.Steps, StepResult{
			Stage:    step.Stage,
			Status:   schema.StepStatusCompleted,
			Attempts: attempts,
			Duration: elapsed,
		})
		e.logger.InfoContext(stageCtx, "step completed",
			slog.Int("attempts", attempts), slog.Duration("elapsed", elapsed))
	}

	if err := runFSM.Transition(runID, schema.RunStatusActive, schema.RunStatusCompleted); err != nil {
		return result, err
	}
	e.finishResult(rc, result, schema.RunStatusCompleted)
	e.logger.InfoContext(runCtx, "run completed",
		slog.Float64("overall", result.Overall),
		slog.Int("passes", len(result.Passes)))
	return result, nil
}

// runWithRetry executes a single step, retrying retryable failures with
// exponential backoff until the retry budget is spent.
func (e *Engine) runWithRetry(ctx context.Context, runID string, stepFSM *StepFSM, step StepDefinition, rc *RunContext) (int, error) {
	retries := step.Retries
	if retries < 0 {
		retries = e.cfg.StepRetries
	}
	timeout := step.Timeout
	if timeout == 0 {
		timeout = e.cfg.StepTimeout
	}

	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts++

		stepCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		execErr := step.Handler.Run(stepCtx, rc)
		timedOut := stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if timedOut {
			execErr = schema.NewErrorf(schema.ErrCodeStepTimeout,
				"step exceeded its %s timeout", timeout).
				WithStep(string(step.Stage)).
				WithCause(execErr)
		}
		if execErr == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			// Run budget or caller cancellation; no point retrying.
			return attempts, execErr
		}
		if !IsRetryableError(execErr) {
			return attempts, execErr
		}
		if attempt >= retries {
			if retries > 0 {
				return attempts, schema.NewErrorf(schema.ErrCodeRetryExhausted,
					"step failed after %d attempts", attempts).
					WithStep(string(step.Stage)).
					WithCause(execErr)
			}
			return attempts, execErr
		}

		if err := stepFSM.Transition(runID, step.Stage, schema.StepStatusRunning, schema.StepStatusRetrying); err != nil {
			return attempts, err
		}
		backoff := ComputeBackoff(attempt)
		e.logger.WarnContext(ctx, "step failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", backoff),
			slog.String("error", execErr.Error()))
		if err := WaitForBackoff(ctx, backoff); err != nil {
			return attempts, execErr
		}
		if err := stepFSM.Transition(runID, step.Stage, schema.StepStatusRetrying, schema.StepStatusRunning); err != nil {
			return attempts, err
		}
	}
}

// budgetError maps run-level context expiry onto the pipeline error taxonomy.
// Returns nil when the failure was the step's own.
func (e *Engine) budgetError(parent, runCtx context.Context, step StepDefinition, execErr error) *schema.FablerError {
	if runCtx.Err() == nil {
		return nil
	}
	if parent.Err() == context.Canceled || errors.Is(execErr, context.Canceled) {
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled").
			WithStep(string(step.Stage)).
			WithCause(execErr)
	}
	return schema.NewErrorf(schema.ErrCodeTimeBudget,
		"run exceeded its %s time budget", e.cfg.MaxRunTime).
		WithStep(string(step.Stage)).
		WithCause(execErr)
}

// isRunFatal reports whether an error ends the run regardless of the step
// being optional.
func isRunFatal(err error) bool {
	var fe *schema.FablerError
	if errors.As(err, &fe) {
		return fe.Code == schema.ErrCodeTimeBudget || fe.Code == schema.ErrCodeCancelled
	}
	return false
}

// failRun transitions the run to its terminal failure state, cascades the
// remaining steps to skipped and shapes the final error.
func (e *Engine) failRun(ctx context.Context, runFSM *RunFSM, stepFSM *StepFSM, rc *RunContext, result *RunResult, step StepDefinition, stepStates map[schema.Stage]schema.StepStatus, cause error) (*RunResult, error) {
	if st := stepStates[step.Stage]; st == schema.StepStatusRunning || st == schema.StepStatusRetrying {
		if err := stepFSM.Transition(rc.RunID, step.Stage, st, schema.StepStatusFailed); err != nil {
			e.logger.ErrorContext(ctx, "step failure transition rejected", slog.String("error", err.Error()))
		}
		stepStates[step.Stage] = schema.StepStatusFailed
	}

	var fe *schema.FablerError
	terminal := schema.RunStatusFailed
	switch {
	case errors.As(cause, &fe) && fe.Code == schema.ErrCodeCancelled:
		terminal = schema.RunStatusCancelled
	case errors.As(cause, &fe) && (fe.Code == schema.ErrCodeTimeBudget || fe.Code == schema.ErrCodeValidation):
		// Keep the taxonomy code as-is.
	default:
		cause = schema.NewErrorf(schema.ErrCodeRequiredStep,
			"required step %s failed", step.Stage).
			WithStep(string(step.Stage)).
			WithCause(cause)
	}

	if err := terminateRun(runFSM, stepFSM, rc.RunID, schema.RunStatusActive, terminal, stepStates); err != nil {
		e.logger.ErrorContext(ctx, "run termination cascade rejected", slog.String("error", err.Error()))
	}

	e.finishResult(rc, result, terminal)
	errors.As(cause, &result.Err)
	e.logger.ErrorContext(ctx, "run failed", slog.String("error", cause.Error()))
	return result, cause
}

// finishResult copies the run context's final state into the result.
func (e *Engine) finishResult(rc *RunContext, result *RunResult, status schema.RunStatus) {
	result.Status = status
	result.Title = rc.Title
	result.Content = rc.Content
	result.Quality = rc.Quality
	result.Passes = rc.Passes
	result.CompletedAt = time.Now()
	if rc.Recommendation != nil {
		result.Strategy = rc.Recommendation.Strategy
	}
	if rc.Quality != nil {
		result.Overall = rc.Quality.Overall()
	}
	if rc.Enhancement != nil {
		result.Convergence = rc.Enhancement.Convergence
		result.TargetReached = rc.Enhancement.TargetReached
	}
}
