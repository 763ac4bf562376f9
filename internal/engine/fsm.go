package engine

import (
	"sync"
	"time"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventSink receives lifecycle events emitted on state transitions. The
// streaming hub satisfies it; the engine wraps the hub to enrich events with
// run progress before they reach subscribers.
type EventSink interface {
	Publish(event schema.ProgressEvent)
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusActive, schema.RunStatusCancelled},
	schema.RunStatusActive:    {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusRetrying, schema.StepStatusSkipped},
	schema.StepStatusRetrying:  {schema.StepStatusRunning, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
	schema.StepStatusSkipped:   {},
}

// --- Run FSM ---

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu     sync.Mutex
	sink   EventSink
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a new RunFSM that emits events via the given sink.
func NewRunFSM(sink EventSink) *RunFSM {
	return &RunFSM{
		sink:   sink,
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition.
// It emits the corresponding lifecycle event via the sink.
// The caller (Engine) is responsible for persisting the new state.
func (f *RunFSM) Transition(runID string, from, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	// Run before hooks.
	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	// Emit the corresponding event.
	if eventType := runEventType(to); eventType != "" && f.sink != nil {
		f.sink.Publish(schema.ProgressEvent{
			RunID:     runID,
			Type:      eventType,
			Timestamp: time.Now(),
		})
	}

	// Run after hooks.
	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusActive:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

// --- Step FSM ---

type stepHookKey struct {
	from, to schema.StepStatus
}

// StepFSM manages step lifecycle state transitions.
type StepFSM struct {
	mu     sync.Mutex
	sink   EventSink
	before map[stepHookKey][]TransitionHook
	after  map[stepHookKey][]TransitionHook
}

// NewStepFSM creates a new StepFSM that emits events via the given sink.
func NewStepFSM(sink EventSink) *StepFSM {
	return &StepFSM{
		sink:   sink,
		before: make(map[stepHookKey][]TransitionHook),
		after:  make(map[stepHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a step transition.
func (f *StepFSM) OnBefore(from, to schema.StepStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stepHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a step transition.
func (f *StepFSM) OnAfter(from, to schema.StepStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stepHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a step state transition for the given
// pipeline stage. It emits the corresponding lifecycle event via the sink.
func (f *StepFSM) Transition(runID string, stage schema.Stage, from, to schema.StepStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStepTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(string(stage)).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := stepHookKey{from, to}

	// Run before hooks.
	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	// Emit the corresponding event.
	if eventType := stepEventType(from, to); eventType != "" && f.sink != nil {
		f.sink.Publish(schema.ProgressEvent{
			RunID:     runID,
			Type:      eventType,
			Stage:     stage,
			Timestamp: time.Now(),
		})
	}

	// Run after hooks.
	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	allowed, ok := ValidStepTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func stepEventType(from, to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		// Resuming after a backoff was already announced as a retry.
		if from == schema.StepStatusPending {
			return schema.EventStepStarted
		}
		return ""
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusSkipped:
		return schema.EventStepSkipped
	case schema.StepStatusRetrying:
		return schema.EventStepRetrying
	default:
		return ""
	}
}

// --- Terminal Cascade ---

// CancelRun transitions a run to cancelled and skips all non-terminal steps.
// stepStates maps stage -> current StepStatus for all known steps.
func CancelRun(runFSM *RunFSM, stepFSM *StepFSM, runID string, currentStatus schema.RunStatus, stepStates map[schema.Stage]schema.StepStatus) error {
	return terminateRun(runFSM, stepFSM, runID, currentStatus, schema.RunStatusCancelled, stepStates)
}

// terminateRun moves a run into a terminal status and cascades every step
// that can still be skipped to skipped. stepStates is updated in place.
func terminateRun(runFSM *RunFSM, stepFSM *StepFSM, runID string, from, terminal schema.RunStatus, stepStates map[schema.Stage]schema.StepStatus) error {
	if err := runFSM.Transition(runID, from, terminal); err != nil {
		return err
	}

	for stage, status := range stepStates {
		if isTerminalStep(status) || !isValidStepTransition(status, schema.StepStatusSkipped) {
			continue
		}
		if err := stepFSM.Transition(runID, stage, status, schema.StepStatusSkipped); err != nil {
			return err
		}
		stepStates[stage] = schema.StepStatusSkipped
	}
	return nil
}

func isTerminalStep(s schema.StepStatus) bool {
	return s == schema.StepStatusCompleted || s == schema.StepStatusFailed || s == schema.StepStatusSkipped
}
