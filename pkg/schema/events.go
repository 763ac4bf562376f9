package schema

import "time"

// Event type constants for the progress stream.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunTimedOut  = "run_timed_out"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
	EventStepRetrying  = "step_retrying"

	EventPassStarted   = "enhancement_pass_started"
	EventPassCompleted = "enhancement_pass_completed"
	EventConverged     = "quality_converged"
	EventTargetReached = "quality_target_reached"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageAnalysis          Stage = "analysis"
	StageStrategySelection Stage = "strategy_selection"
	StageOutlineGeneration Stage = "outline_generation"
	StageContentGeneration Stage = "content_generation"
	StageQualityAssessment Stage = "quality_assessment"
	StageEnhancement       Stage = "enhancement"
	StageFinalization      Stage = "finalization"
)

// Stages lists all pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{
		StageAnalysis,
		StageStrategySelection,
		StageOutlineGeneration,
		StageContentGeneration,
		StageQualityAssessment,
		StageEnhancement,
		StageFinalization,
	}
}

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusRetrying  StepStatus = "retrying"
)

// ProgressEvent is a single item on the run progress stream.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Stage     Stage     `json:"stage,omitempty"`
	Progress  float64   `json:"progress"`
	Pass      int       `json:"pass,omitempty"`
	Overall   float64   `json:"overall,omitempty"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
