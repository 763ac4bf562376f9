package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/inkwell-ai/fabler/internal/engine"
	"github.com/inkwell-ai/fabler/internal/strategy"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Strategy outcomes ---

// RecordOutcome appends an outcome and trims the per-strategy history to the
// retention cap, keeping the most recent records.
func (s *LibSQLStore) RecordOutcome(ctx context.Context, o strategy.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_outcomes
		 (strategy, genre, word_count, success, quality_score, generation_time_ms, error_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(o.Strategy), string(o.Genre), o.WordCount, boolInt(o.Success),
		o.QualityScore, o.GenerationTime.Milliseconds(), o.ErrorCount, timeOrNow(o.RecordedAt),
	)
	if err != nil {
		return storeFailure("record outcome", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM strategy_outcomes WHERE strategy = ? AND id NOT IN (
		   SELECT id FROM strategy_outcomes WHERE strategy = ?
		   ORDER BY recorded_at DESC, id DESC LIMIT ?
		 )`,
		string(o.Strategy), string(o.Strategy), outcomeRetention,
	)
	if err != nil {
		return storeFailure("trim outcomes", err)
	}
	return nil
}

// Similar returns outcomes for the strategy with the same genre and a word
// count within 30% of the target.
func (s *LibSQLStore) Similar(ctx context.Context, strat schema.GenerationStrategy, genre schema.Genre, wordCount int) ([]strategy.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, genre, word_count, success, quality_score, generation_time_ms, error_count, recorded_at
		 FROM strategy_outcomes
		 WHERE strategy = ? AND genre = ? AND ABS(word_count - ?) < 0.3 * ?
		 ORDER BY recorded_at ASC, id ASC`,
		string(strat), string(genre), wordCount, wordCount,
	)
	if err != nil {
		return nil, storeFailure("query similar outcomes", err)
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

// Statistics aggregates the retained history per strategy. Aggregation runs
// in Go so the averages match the in-memory store exactly.
func (s *LibSQLStore) Statistics(ctx context.Context) (map[schema.GenerationStrategy]strategy.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, genre, word_count, success, quality_score, generation_time_ms, error_count, recorded_at
		 FROM strategy_outcomes ORDER BY recorded_at ASC, id ASC`,
	)
	if err != nil {
		return nil, storeFailure("query outcomes", err)
	}
	defer rows.Close()

	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, err
	}

	byStrategy := make(map[schema.GenerationStrategy][]strategy.Outcome)
	for _, o := range outcomes {
		byStrategy[o.Strategy] = append(byStrategy[o.Strategy], o)
	}

	stats := make(map[schema.GenerationStrategy]strategy.Stats, len(schema.GenerationStrategies()))
	for _, strat := range schema.GenerationStrategies() {
		stats[strat] = strategy.ComputeStats(byStrategy[strat])
	}
	return stats, nil
}

func scanOutcomes(rows *sql.Rows) ([]strategy.Outcome, error) {
	var outcomes []strategy.Outcome
	for rows.Next() {
		var o strategy.Outcome
		var success int
		var genTimeMs int64
		if err := rows.Scan(&o.Strategy, &o.Genre, &o.WordCount, &success,
			&o.QualityScore, &genTimeMs, &o.ErrorCount, &o.RecordedAt); err != nil {
			return nil, err
		}
		o.Success = success != 0
		o.GenerationTime = time.Duration(genTimeMs) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// --- Runs ---

// SaveRun upserts a run summary keyed by run ID.
func (s *LibSQLStore) SaveRun(ctx context.Context, rec *engine.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs
		 (run_id, status, title, genre, strategy, target_word_count, word_count, overall, passes, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, title=excluded.title, strategy=excluded.strategy,
		   word_count=excluded.word_count, overall=excluded.overall, passes=excluded.passes,
		   completed_at=excluded.completed_at, error=excluded.error`,
		rec.RunID, string(rec.Status), nullStr(rec.Title), string(rec.Genre), nullStr(string(rec.Strategy)),
		rec.TargetWordCount, rec.WordCount, rec.Overall, rec.Passes,
		timeOrNow(rec.StartedAt), nullTimeValue(rec.CompletedAt), nullStr(rec.Error),
	)
	if err != nil {
		return storeFailure("save run", err)
	}
	return nil
}

// GetRun returns the run summary for the given ID.
func (s *LibSQLStore) GetRun(ctx context.Context, runID string) (*engine.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, title, genre, strategy, target_word_count, word_count, overall, passes, started_at, completed_at, error
		 FROM runs WHERE run_id = ?`, runID,
	)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", runID)
	}
	if err != nil {
		return nil, storeFailure("get run", err)
	}
	return rec, nil
}

// ListRuns returns run summaries matching the filter, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.RunRecord, error) {
	query := `SELECT run_id, status, title, genre, strategy, target_word_count, word_count, overall, passes, started_at, completed_at, error
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Genre != "" {
		query += " AND genre = ?"
		args = append(args, filter.Genre)
	}
	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, *filter.Since)
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeFailure("list runs", err)
	}
	defer rows.Close()

	var recs []*engine.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*engine.RunRecord, error) {
	rec := &engine.RunRecord{}
	var title, strat, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&rec.RunID, &rec.Status, &title, &rec.Genre, &strat,
		&rec.TargetWordCount, &rec.WordCount, &rec.Overall, &rec.Passes,
		&rec.StartedAt, &completedAt, &errMsg)
	if err != nil {
		return nil, err
	}
	rec.Title = title.String
	rec.Strategy = schema.GenerationStrategy(strat.String)
	rec.Error = errMsg.String
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	return rec, nil
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	requirements := string(job.Requirements)
	if requirements == "" {
		requirements = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs
		 (id, name, cron_expression, requirements, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.CronExpression, requirements, boolInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	if err != nil {
		return storeFailure("create scheduled job", err)
	}
	return nil
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var requirements string
	var enabled int
	var lastRun, nextRun sql.NullTime
	var lastStatus sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, cron_expression, requirements, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.Name, &job.CronExpression, &requirements, &enabled,
		&lastRun, &nextRun, &lastStatus, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, storeFailure("get scheduled job", err)
	}
	job.Requirements = json.RawMessage(requirements)
	job.Enabled = enabled != 0
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	job.LastRunStatus = lastStatus.String
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...,
	)
	if err != nil {
		return storeFailure("update scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	query := `SELECT id, name, cron_expression, requirements, enabled, last_run_at, next_run_at, last_run_status, created_at
	          FROM scheduled_jobs WHERE 1=1`
	var args []any

	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, boolInt(*filter.Enabled))
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeFailure("list scheduled jobs", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		var requirements string
		var enabled int
		var lastRun, nextRun sql.NullTime
		var lastStatus sql.NullString
		if err := rows.Scan(&job.ID, &job.Name, &job.CronExpression, &requirements, &enabled,
			&lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Requirements = json.RawMessage(requirements)
		job.Enabled = enabled != 0
		if lastRun.Valid {
			job.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			job.NextRunAt = &nextRun.Time
		}
		job.LastRunStatus = lastStatus.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return storeFailure("delete scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- Helpers ---

// outcomeRetention bounds the retained outcome history per strategy.
const outcomeRetention = 100

func storeNotFound(resource, id string) *schema.FablerError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeFailure(op string, err error) *schema.FablerError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullTimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
