package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/fabler/internal/store"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// mockJobStore satisfies store.Store for scheduler tests.
type mockJobStore struct {
	store.Store
	mu   sync.Mutex
	jobs map[string]*store.ScheduledJob
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*store.ScheduledJob)}
}

func (m *mockJobStore) add(job *store.ScheduledJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *mockJobStore) get(id string) *store.ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.jobs[id]
	return &cp
}

func (m *mockJobStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockJobStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		j.LastRunStatus = update.LastRunStatus
	}
	return nil
}

// mockRunner records generation requests. A non-nil block channel makes
// Generate wait until it is closed, simulating a long-running generation.
type mockRunner struct {
	mu    sync.Mutex
	reqs  []schema.Requirements
	err   error
	block chan struct{}
}

func (r *mockRunner) Generate(_ context.Context, req *schema.Requirements) error {
	r.mu.Lock()
	r.reqs = append(r.reqs, *req)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return r.err
}

func (r *mockRunner) calls() []schema.Requirements {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Requirements(nil), r.reqs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(id string) *store.ScheduledJob {
	return &store.ScheduledJob{
		ID:             id,
		Name:           "nightly-mystery",
		CronExpression: "0 3 * * *",
		Requirements:   json.RawMessage(`{"genre":"mystery","target_word_count":1200}`),
		Enabled:        true,
	}
}

func TestTick_RunsDueJob(t *testing.T) {
	st := newMockJobStore()
	st.add(testJob("job-1"))
	runner := &mockRunner{}
	s := New(st, runner, 2, testLogger())

	s.tick(context.Background())
	s.pool.Wait()

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, schema.GenreMystery, calls[0].Genre)
	assert.Equal(t, 1200, calls[0].TargetWordCount)

	job := st.get("job-1")
	assert.Equal(t, "success", job.LastRunStatus)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now().UTC()))
	require.NotNil(t, job.LastRunAt)
}

func TestTick_SkipsFutureJob(t *testing.T) {
	st := newMockJobStore()
	job := testJob("job-1")
	future := time.Now().UTC().Add(time.Hour)
	job.NextRunAt = &future
	st.add(job)
	runner := &mockRunner{}
	s := New(st, runner, 2, testLogger())

	s.tick(context.Background())
	s.pool.Wait()

	assert.Empty(t, runner.calls())
}

func TestTick_SkipsDisabledJob(t *testing.T) {
	st := newMockJobStore()
	job := testJob("job-1")
	job.Enabled = false
	st.add(job)
	runner := &mockRunner{}
	s := New(st, runner, 2, testLogger())

	s.tick(context.Background())
	s.pool.Wait()

	assert.Empty(t, runner.calls())
}

func TestRunJob_InvalidRequirements(t *testing.T) {
	st := newMockJobStore()
	job := testJob("job-1")
	job.Requirements = json.RawMessage(`{not json`)
	st.add(job)
	runner := &mockRunner{}
	s := New(st, runner, 2, testLogger())

	s.tick(context.Background())
	s.pool.Wait()

	assert.Empty(t, runner.calls())
	assert.Equal(t, "error", st.get("job-1").LastRunStatus)
}

func TestRunJob_RunnerFailureMarksError(t *testing.T) {
	st := newMockJobStore()
	st.add(testJob("job-1"))
	runner := &mockRunner{err: errors.New("generation failed")}
	s := New(st, runner, 2, testLogger())

	s.tick(context.Background())
	s.pool.Wait()

	require.Len(t, runner.calls(), 1)
	job := st.get("job-1")
	assert.Equal(t, "error", job.LastRunStatus)
	require.NotNil(t, job.NextRunAt) // reschedules even after failure
}

func TestDispatch_DedupsInflightJob(t *testing.T) {
	st := newMockJobStore()
	st.add(testJob("job-1"))
	release := make(chan struct{})
	runner := &mockRunner{block: release}
	s := New(st, runner, 2, testLogger())

	s.tick(context.Background())
	require.Eventually(t, func() bool { return len(runner.calls()) == 1 }, time.Second, 5*time.Millisecond)

	// The first occurrence is still generating, so the job is skipped.
	s.tick(context.Background())
	assert.Len(t, runner.calls(), 1)

	close(release)
	s.pool.Wait()
	assert.Len(t, runner.calls(), 1)
	assert.Equal(t, "success", st.get("job-1").LastRunStatus)
}

func TestCalculateNextRun(t *testing.T) {
	s := New(newMockJobStore(), &mockRunner{}, 1, testLogger())

	from := time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("not a cron", from)
	require.Error(t, err)
	fbErr, ok := err.(*schema.FablerError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeScheduler, fbErr.Code)
}

func TestRecoverMissed(t *testing.T) {
	st := newMockJobStore()
	missed := testJob("missed")
	past := time.Now().UTC().Add(-time.Hour)
	missed.NextRunAt = &past

	pending := testJob("pending")
	future := time.Now().UTC().Add(time.Hour)
	pending.NextRunAt = &future

	st.add(missed)
	st.add(pending)
	runner := &mockRunner{}
	s := New(st, runner, 2, testLogger())

	require.NoError(t, s.RecoverMissed(context.Background()))
	s.pool.Wait()

	assert.Len(t, runner.calls(), 1)
	assert.Equal(t, "success", st.get("missed").LastRunStatus)
	assert.Equal(t, "", st.get("pending").LastRunStatus)
}

func TestStartStop(t *testing.T) {
	st := newMockJobStore()
	s := New(st, &mockRunner{}, 1, testLogger())

	require.NoError(t, s.Start(context.Background()))
	err := s.Start(context.Background())
	require.Error(t, err)
	fbErr, ok := err.(*schema.FablerError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeScheduler, fbErr.Code)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop()) // idempotent
}
