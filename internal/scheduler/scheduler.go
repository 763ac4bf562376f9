package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inkwell-ai/fabler/internal/store"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// StoryRunner is the interface the scheduler uses to launch generations.
// Satisfied by the pipeline engine (avoids import cycle).
type StoryRunner interface {
	Generate(ctx context.Context, req *schema.Requirements) error
}

// tickInterval is how often the scheduler polls for due jobs.
const tickInterval = 60 * time.Second

// Scheduler polls the store for due scheduled jobs and launches story
// generations through a bounded run pool.
type Scheduler struct {
	store  store.Store
	runner StoryRunner
	pool   *RunPool
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a Scheduler running at most maxConcurrent generations at once.
func New(s store.Store, runner StoryRunner, maxConcurrent int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  s,
		runner: runner,
		pool:   NewRunPool(maxConcurrent),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger: logger,
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeScheduler, "scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled jobs and dispatches those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			s.dispatch(ctx, job, now)
		}
	}
}

// dispatch submits a due job to the run pool. The pool dedups by job ID, so
// a job whose previous occurrence is still generating is skipped.
func (s *Scheduler) dispatch(ctx context.Context, job *store.ScheduledJob, now time.Time) {
	err := s.pool.Submit(ctx, job.ID, func(runCtx context.Context) error {
		return s.runJob(runCtx, job, now)
	})
	if err != nil && !errors.Is(err, ErrRunInFlight) {
		s.logger.Error("failed to dispatch scheduled job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
	)

	var req schema.Requirements
	if err := json.Unmarshal(job.Requirements, &req); err != nil {
		s.logger.Error("scheduled job has invalid requirements",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return s.updateJobStatus(ctx, job, now, "error")
	}

	err := s.runner.Generate(ctx, &req)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeScheduler, "calculate next run for job %q: %v", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeScheduler, "parse cron expression %q: %v", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// PoolMetrics returns a snapshot of the run pool metrics.
func (s *Scheduler) PoolMetrics() PoolMetrics {
	return s.pool.Metrics()
}

// Stop gracefully shuts down the scheduler, waiting for in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Shutdown()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed checks for jobs that missed their next_run_at and runs them once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeScheduler, "list missed jobs: %v", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.Before(now) {
			s.dispatch(ctx, job, now)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovering missed jobs", slog.Int("count", recovered))
	}
	return nil
}
