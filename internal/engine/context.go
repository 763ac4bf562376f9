package engine

import (
	"context"
	"strings"
	"time"

	"github.com/inkwell-ai/fabler/internal/enhance"
	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/internal/strategy"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// RunContext carries the accumulated state of a pipeline run. Each step reads
// the fields produced by earlier stages and writes its own output. It is owned
// by a single run goroutine and requires no locking.
type RunContext struct {
	RunID        string
	Requirements *schema.Requirements

	// Produced by the analysis stage.
	Analysis strategy.Analysis

	// Produced by the strategy selection stage.
	Recommendation *strategy.Recommendation

	// Produced by the outline stage, empty when the step was skipped.
	Outline string

	// Draft and refined story state.
	Content string
	Title   string
	Quality *quality.Vector

	// Produced by the enhancement stage.
	Enhancement *enhance.Result
	Passes      []enhance.Pass

	// ErrorCount tallies failed step attempts across the run.
	ErrorCount int

	StartedAt    time.Time
	StageElapsed map[schema.Stage]time.Duration
}

// WordCount returns the whitespace-delimited word count of the current content.
func (rc *RunContext) WordCount() int {
	return len(strings.Fields(rc.Content))
}

// StepResult records the outcome of a single pipeline step.
type StepResult struct {
	Stage    schema.Stage      `json:"stage"`
	Status   schema.StepStatus `json:"status"`
	Attempts int               `json:"attempts"`
	Duration time.Duration     `json:"duration"`
	Error    string            `json:"error,omitempty"`
}

// RunResult is the final outcome of a pipeline run.
type RunResult struct {
	RunID         string                  `json:"run_id"`
	Status        schema.RunStatus        `json:"status"`
	Title         string                  `json:"title"`
	Content       string                  `json:"content"`
	Strategy      schema.GenerationStrategy `json:"strategy,omitempty"`
	Quality       *quality.Vector         `json:"-"`
	Overall       float64                 `json:"overall"`
	Passes        []enhance.Pass          `json:"passes,omitempty"`
	Convergence   quality.State           `json:"convergence"`
	TargetReached bool                    `json:"target_reached"`
	Steps         []StepResult            `json:"steps"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   time.Time               `json:"completed_at"`
	Err           *schema.FablerError     `json:"error,omitempty"`
}

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	RunID           string
	Status          schema.RunStatus
	Title           string
	Genre           schema.Genre
	Strategy        schema.GenerationStrategy
	TargetWordCount int
	WordCount       int
	Overall         float64
	Passes          int
	StartedAt       time.Time
	CompletedAt     time.Time
	Error           string
}

// RunRecorder persists run summaries. The store satisfies it.
type RunRecorder interface {
	SaveRun(ctx context.Context, rec *RunRecord) error
}
