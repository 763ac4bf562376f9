package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_DefaultThreshold(t *testing.T) {
	tr := NewTracker(0)
	tr.Record(0.05)
	tr.Record(0.05)
	assert.True(t, tr.Plateaued(), "0.05 is below the default threshold 0.1")
}

func TestTracker_NoSignalBeforeTwoPasses(t *testing.T) {
	tr := NewTracker(0.1)
	assert.False(t, tr.Converged())

	tr.Record(0.01)
	assert.False(t, tr.Plateaued(), "a single pass never plateaus")
	assert.False(t, tr.DiminishingReturns())
}

func TestTracker_PlateauSequence(t *testing.T) {
	tr := NewTracker(0.1)
	for _, d := range []float64{1.0, 0.3, 0.05} {
		tr.Record(d)
	}

	assert.True(t, tr.Plateaued(), "latest delta 0.05 < 0.1")
	assert.True(t, tr.Converged())
	assert.Equal(t, 3, tr.Snapshot().ConvergencePass)
}

func TestTracker_NoPlateauWhileImproving(t *testing.T) {
	tr := NewTracker(0.1)
	tr.Record(1.0)
	tr.Record(0.3)
	assert.False(t, tr.Plateaued(), "0.3 is above the threshold")
}

func TestTracker_DiminishingReturns(t *testing.T) {
	tr := NewTracker(0.1)
	tr.Record(1.0)
	tr.Record(0.4)

	assert.True(t, tr.DiminishingReturns(), "0.4 < 0.5 of 1.0")
	assert.False(t, tr.Plateaued(), "0.4 is above the threshold")
	assert.True(t, tr.Converged())
}

func TestTracker_SteadyImprovementContinues(t *testing.T) {
	tr := NewTracker(0.1)
	tr.Record(0.5)
	tr.Record(0.4)
	tr.Record(0.35)

	assert.False(t, tr.Converged(), "steady deltas above threshold keep the loop running")
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker(0.1)
	tr.Record(1.0)
	tr.Record(0.4)

	s := tr.Snapshot()
	assert.Equal(t, []float64{1.0, 0.4}, s.Deltas)
	assert.False(t, s.PlateauDetected)
	assert.True(t, s.DiminishingReturns)
	assert.Equal(t, 2, s.ConvergencePass)
}

func TestTracker_DeltasReturnsCopy(t *testing.T) {
	tr := NewTracker(0.1)
	tr.Record(1.0)

	ds := tr.Deltas()
	ds[0] = 0.0
	assert.Equal(t, []float64{1.0}, tr.Deltas())
}
