package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeStepExecution     = "STEP_EXECUTION_ERROR"
	ErrCodeStepTimeout       = "STEP_TIMEOUT"
	ErrCodeRequiredStep      = "REQUIRED_STEP_FAILED"
	ErrCodeTimeBudget        = "TIME_BUDGET_EXCEEDED"
	ErrCodeAssessment        = "QUALITY_ASSESSMENT_FAILED"
	ErrCodeEnhancement       = "ENHANCEMENT_PASS_FAILED"
	ErrCodeGeneration        = "GENERATION_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeScheduler         = "SCHEDULER_ERROR"
)

// FablerError is the structured error type for all pipeline operations.
type FablerError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FablerError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FablerError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FablerError.
func NewError(code, message string) *FablerError {
	return &FablerError{Code: code, Message: message}
}

// NewErrorf creates a new FablerError with a formatted message.
func NewErrorf(code, format string, args ...any) *FablerError {
	return &FablerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FablerError) WithStep(stepID string) *FablerError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FablerError) WithCause(err error) *FablerError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FablerError) WithDetails(details map[string]any) *FablerError {
	e.Details = details
	return e
}
