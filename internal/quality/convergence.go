package quality

// DefaultConvergenceThreshold is the delta below which improvement is
// considered negligible.
const DefaultConvergenceThreshold = 0.1

// Tracker consumes the sequence of per-pass quality deltas and decides the
// early-stop conditions for the enhancement loop. It only ever shortens the
// loop: no condition forces continuation.
type Tracker struct {
	threshold float64
	deltas    []float64
}

// NewTracker creates a Tracker. A non-positive threshold selects the default.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultConvergenceThreshold
	}
	return &Tracker{threshold: threshold}
}

// Record appends the delta produced by one enhancement pass.
func (t *Tracker) Record(delta float64) {
	t.deltas = append(t.deltas, delta)
}

// Deltas returns a copy of the recorded delta sequence.
func (t *Tracker) Deltas() []float64 {
	out := make([]float64, len(t.deltas))
	copy(out, t.deltas)
	return out
}

// Passes returns the number of recorded passes.
func (t *Tracker) Passes() int {
	return len(t.deltas)
}

// Plateaued reports whether quality improvement has flattened out: at least
// two passes recorded and the latest delta below the threshold.
func (t *Tracker) Plateaued() bool {
	if len(t.deltas) < 2 {
		return false
	}
	return t.deltas[len(t.deltas)-1] < t.threshold
}

// DiminishingReturns reports whether the latest delta is less than half the
// previous one.
func (t *Tracker) DiminishingReturns() bool {
	if len(t.deltas) < 2 {
		return false
	}
	latest := t.deltas[len(t.deltas)-1]
	previous := t.deltas[len(t.deltas)-2]
	return latest < 0.5*previous
}

// Converged reports whether either stop condition holds.
func (t *Tracker) Converged() bool {
	return t.Plateaued() || t.DiminishingReturns()
}

// State is an observability snapshot of the tracker.
type State struct {
	Deltas             []float64 `json:"deltas"`
	PlateauDetected    bool      `json:"plateau_detected"`
	DiminishingReturns bool      `json:"diminishing_returns_detected"`
	ConvergencePass    int       `json:"convergence_pass,omitempty"`
}

// Snapshot captures the current convergence state. ConvergencePass is the
// 1-based pass index at which convergence was detected, 0 if not converged.
func (t *Tracker) Snapshot() State {
	s := State{
		Deltas:             t.Deltas(),
		PlateauDetected:    t.Plateaued(),
		DiminishingReturns: t.DiminishingReturns(),
	}
	if s.PlateauDetected || s.DiminishingReturns {
		s.ConvergencePass = len(t.deltas)
	}
	return s
}
