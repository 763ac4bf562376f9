package engine

import (
	"context"
	"time"

	"github.com/inkwell-ai/fabler/internal/enhance"
	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/internal/strategy"
	"github.com/inkwell-ai/fabler/internal/validation"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Handler executes a single pipeline stage against the run context.
type Handler interface {
	Run(ctx context.Context, rc *RunContext) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, rc *RunContext) error

func (f HandlerFunc) Run(ctx context.Context, rc *RunContext) error {
	return f(ctx, rc)
}

// StepDefinition binds a handler to a pipeline stage with its execution
// policy. Steps are required unless Optional is set; a non-empty Condition is
// an expr guard evaluated against the run context before execution.
type StepDefinition struct {
	Stage     schema.Stage
	Handler   Handler
	Optional  bool
	Condition string

	// Timeout overrides the engine's default per-attempt timeout when > 0.
	Timeout time.Duration

	// Retries overrides the engine's default retry budget when >= 0;
	// leave at -1 to inherit.
	Retries int
}

// Generator produces outlines and first drafts. The genai client satisfies it.
type Generator interface {
	Outline(ctx context.Context, req *schema.Requirements, strat schema.GenerationStrategy) (string, error)
	Draft(ctx context.Context, req *schema.Requirements, strat schema.GenerationStrategy, outline string) (content, title string, err error)
}

// Assessor scores content into a quality vector. quality.Assessor satisfies it.
type Assessor interface {
	Assess(ctx context.Context, content string, req *schema.Requirements) (*quality.Vector, error)
}

// Services are the collaborators the standard pipeline steps depend on.
// Outcomes and Runs are optional; when nil the finalization step skips the
// corresponding bookkeeping.
type Services struct {
	Validator *validation.RequirementsValidator
	Selector  *strategy.Selector
	Generator Generator
	Assessor  Assessor
	Loop      *enhance.Loop
	Outcomes  strategy.PerformanceStore
	Runs      RunRecorder
}
