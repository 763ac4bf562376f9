package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// maxOutcomesPerStrategy bounds the retained history per strategy.
const maxOutcomesPerStrategy = 100

// Outcome is one recorded generation result used for strategy learning.
type Outcome struct {
	Strategy       schema.GenerationStrategy `json:"strategy"`
	Genre          schema.Genre              `json:"genre"`
	WordCount      int                       `json:"word_count"`
	Success        bool                      `json:"success"`
	QualityScore   float64                   `json:"quality_score"`
	GenerationTime time.Duration             `json:"generation_time"`
	ErrorCount     int                       `json:"error_count"`
	RecordedAt     time.Time                 `json:"recorded_at"`
}

// Stats aggregates outcomes for one strategy.
type Stats struct {
	TotalUses   int           `json:"total_uses"`
	SuccessRate float64       `json:"success_rate"`
	AvgQuality  float64       `json:"avg_quality"`
	AvgTime     time.Duration `json:"avg_time"`
	AvgErrors   float64       `json:"avg_errors"`
}

// PerformanceStore records generation outcomes and answers the similarity
// queries behind the historical performance bonus.
type PerformanceStore interface {
	// RecordOutcome appends one outcome to the history.
	RecordOutcome(ctx context.Context, o Outcome) error

	// Similar returns outcomes for the given strategy with the same genre
	// and a word count within 30% of the target.
	Similar(ctx context.Context, strategy schema.GenerationStrategy, genre schema.Genre, wordCount int) ([]Outcome, error)

	// Statistics aggregates the full history per strategy.
	Statistics(ctx context.Context) (map[schema.GenerationStrategy]Stats, error)
}

// SimilarWordCount reports whether a recorded word count is close enough to
// the target to inform the historical bonus.
func SimilarWordCount(recorded, target int) bool {
	diff := recorded - target
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) < float64(target)*0.3
}

// ComputeStats aggregates a slice of outcomes. Average quality covers
// successful outcomes only.
func ComputeStats(outcomes []Outcome) Stats {
	s := Stats{TotalUses: len(outcomes)}
	if len(outcomes) == 0 {
		return s
	}

	var successes int
	var qualitySum float64
	var timeSum time.Duration
	var errorSum int
	for _, o := range outcomes {
		if o.Success {
			successes++
			qualitySum += o.QualityScore
		}
		timeSum += o.GenerationTime
		errorSum += o.ErrorCount
	}

	s.SuccessRate = float64(successes) / float64(len(outcomes))
	if successes > 0 {
		s.AvgQuality = qualitySum / float64(successes)
	}
	s.AvgTime = timeSum / time.Duration(len(outcomes))
	s.AvgErrors = float64(errorSum) / float64(len(outcomes))
	return s
}

// MemoryStore is an in-memory PerformanceStore. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes map[schema.GenerationStrategy][]Outcome
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{outcomes: make(map[schema.GenerationStrategy][]Outcome)}
}

// RecordOutcome appends an outcome, keeping only the most recent records.
func (m *MemoryStore) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := append(m.outcomes[o.Strategy], o)
	if len(records) > maxOutcomesPerStrategy {
		records = records[len(records)-maxOutcomesPerStrategy:]
	}
	m.outcomes[o.Strategy] = records
	return nil
}

// Similar returns matching outcomes for the historical bonus query.
func (m *MemoryStore) Similar(ctx context.Context, strategy schema.GenerationStrategy, genre schema.Genre, wordCount int) ([]Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Outcome
	for _, o := range m.outcomes[strategy] {
		if o.Genre == genre && SimilarWordCount(o.WordCount, wordCount) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Statistics aggregates the retained history per strategy.
func (m *MemoryStore) Statistics(ctx context.Context) (map[schema.GenerationStrategy]Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[schema.GenerationStrategy]Stats, len(schema.GenerationStrategies()))
	for _, s := range schema.GenerationStrategies() {
		stats[s] = ComputeStats(m.outcomes[s])
	}
	return stats, nil
}
