package store

import (
	"context"

	"github.com/inkwell-ai/fabler/internal/engine"
	"github.com/inkwell-ai/fabler/internal/strategy"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Strategy outcome history, feeds future strategy selection.
	strategy.PerformanceStore

	// Run summaries.
	engine.RunRecorder
	GetRun(ctx context.Context, runID string) (*engine.RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.RunRecord, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
