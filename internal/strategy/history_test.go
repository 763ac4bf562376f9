package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

func TestMemoryStore_RecordAndSimilar(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.RecordOutcome(ctx, Outcome{
		Strategy: schema.StrategyOutline, Genre: schema.GenreMystery,
		WordCount: 1100, Success: true, QualityScore: 8.2,
	}))
	require.NoError(t, store.RecordOutcome(ctx, Outcome{
		Strategy: schema.StrategyOutline, Genre: schema.GenreMystery,
		WordCount: 2000, Success: true, QualityScore: 8.5,
	}))

	similar, err := store.Similar(ctx, schema.StrategyOutline, schema.GenreMystery, 1000)
	require.NoError(t, err)
	require.Len(t, similar, 1, "2000 words is outside 30% of 1000")
	assert.Equal(t, 1100, similar[0].WordCount)
	assert.False(t, similar[0].RecordedAt.IsZero(), "timestamp filled on record")
}

func TestMemoryStore_SimilarDifferentStrategy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.RecordOutcome(ctx, Outcome{
		Strategy: schema.StrategyDirect, Genre: schema.GenreMystery,
		WordCount: 1000, Success: true, QualityScore: 8.0,
	}))

	similar, err := store.Similar(ctx, schema.StrategyOutline, schema.GenreMystery, 1000)
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func TestMemoryStore_RetentionCap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < maxOutcomesPerStrategy+20; i++ {
		require.NoError(t, store.RecordOutcome(ctx, Outcome{
			Strategy: schema.StrategyDirect, Genre: schema.GenreFantasy,
			WordCount: 1000, Success: true, QualityScore: 8.0,
		}))
	}

	similar, err := store.Similar(ctx, schema.StrategyDirect, schema.GenreFantasy, 1000)
	require.NoError(t, err)
	assert.Len(t, similar, maxOutcomesPerStrategy)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.RecordOutcome(ctx, Outcome{
				Strategy: schema.StrategyAdaptive, Genre: schema.GenreDrama,
				WordCount: 1200, Success: true, QualityScore: 7.8,
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Similar(ctx, schema.StrategyAdaptive, schema.GenreDrama, 1200)
		}()
	}
	wg.Wait()

	similar, err := store.Similar(ctx, schema.StrategyAdaptive, schema.GenreDrama, 1200)
	require.NoError(t, err)
	assert.Len(t, similar, 10)
}

func TestComputeStats(t *testing.T) {
	outcomes := []Outcome{
		{Success: true, QualityScore: 8.0, GenerationTime: 2 * time.Minute, ErrorCount: 0},
		{Success: true, QualityScore: 9.0, GenerationTime: 4 * time.Minute, ErrorCount: 1},
		{Success: false, QualityScore: 0, GenerationTime: 3 * time.Minute, ErrorCount: 3},
	}

	s := ComputeStats(outcomes)
	assert.Equal(t, 3, s.TotalUses)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	assert.InDelta(t, 8.5, s.AvgQuality, 1e-9, "failures excluded from quality average")
	assert.Equal(t, 3*time.Minute, s.AvgTime)
	assert.InDelta(t, 4.0/3.0, s.AvgErrors, 1e-9)
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	assert.Zero(t, s.TotalUses)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AvgQuality)
}

func TestMemoryStore_Statistics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.RecordOutcome(ctx, Outcome{
		Strategy: schema.StrategyIterative, Genre: schema.GenreFantasy,
		WordCount: 2000, Success: true, QualityScore: 8.4,
	}))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[schema.StrategyIterative].TotalUses)
	assert.Zero(t, stats[schema.StrategyDirect].TotalUses, "every strategy present")
}

func TestSimilarWordCount(t *testing.T) {
	assert.True(t, SimilarWordCount(1100, 1000))
	assert.True(t, SimilarWordCount(701, 1000))
	assert.False(t, SimilarWordCount(700, 1000), "boundary is strict")
	assert.False(t, SimilarWordCount(1300, 1000))
}
