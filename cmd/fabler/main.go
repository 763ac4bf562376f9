package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/fabler/internal/enhance"
	"github.com/inkwell-ai/fabler/internal/engine"
	"github.com/inkwell-ai/fabler/internal/genai"
	"github.com/inkwell-ai/fabler/internal/logging"
	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/internal/scheduler"
	"github.com/inkwell-ai/fabler/internal/store"
	"github.com/inkwell-ai/fabler/internal/strategy"
	"github.com/inkwell-ai/fabler/internal/streaming"
	"github.com/inkwell-ai/fabler/internal/validation"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "schedule":
		err = cmdSchedule(os.Args[2:])
	case "jobs":
		err = cmdJobs(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  fabler run -requirements file.json [-settings settings.json]
  fabler schedule [-settings settings.json]
  fabler jobs {add|list|rm} [flags]`)
}

// app bundles the wired components a command needs.
type app struct {
	cfg    Config
	logger *slog.Logger
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
	engine *engine.Engine
}

func buildApp(ctx context.Context, cfg Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(fablerDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	model, err := genai.NewOpenAIModel(genai.ModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	svc := genai.NewService(model, genai.NewBreakerRegistry(genai.DefaultBreakerConfig()), logger)

	validator, err := validation.NewRequirementsValidator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	assessor := quality.NewAssessor(svc, cfg.ScoreGroupSize)
	selector := strategy.NewSelector(strategy.DefaultConfig(), st, logger)
	loop := enhance.NewLoop(assessor, svc, nil, logger)

	hub := streaming.NewMemoryHub()

	opts := enhance.DefaultOptions()
	opts.Target = cfg.QualityTarget
	opts.MaxPasses = cfg.MaxPasses

	services := engine.Services{
		Validator: validator,
		Selector:  selector,
		Generator: svc,
		Assessor:  assessor,
		Loop:      loop,
		Outcomes:  st,
		Runs:      st,
	}
	sink := streaming.NewSink(hub)
	eng := engine.New(engine.Config{
		StepTimeout: time.Duration(cfg.StepTimeoutSec) * time.Second,
		StepRetries: cfg.StepRetries,
		MaxRunTime:  time.Duration(cfg.MaxRunTimeSec) * time.Second,
	}, engine.DefaultPipeline(services, opts, sink), sink, logger)

	return &app{cfg: cfg, logger: logger, store: st, hub: hub, engine: eng}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// logEvents streams hub events to the logger until ctx is cancelled.
func (a *app) logEvents(ctx context.Context) (stop func()) {
	events, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return func() {}
	}
	go func() {
		for e := range events {
			attrs := []any{
				slog.String("run_id", e.RunID),
				slog.Float64("progress", e.Progress),
			}
			if e.Stage != "" {
				attrs = append(attrs, slog.String("stage", string(e.Stage)))
			}
			if e.Pass > 0 {
				attrs = append(attrs, slog.Int("pass", e.Pass))
			}
			if e.Err != "" {
				attrs = append(attrs, slog.String("error", e.Err))
			}
			a.logger.Info(e.Type, attrs...)
		}
	}()
	return cancel
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	reqPath := fs.String("requirements", "", "path to requirements JSON")
	settings := fs.String("settings", "", "path to settings.json")
	_ = fs.Parse(args)

	if *reqPath == "" {
		return fmt.Errorf("run: -requirements is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, loadConfig(*settings))
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := os.ReadFile(*reqPath)
	if err != nil {
		return fmt.Errorf("read requirements: %w", err)
	}
	validator, err := validation.NewRequirementsValidator()
	if err != nil {
		return err
	}
	req, err := validator.ValidateJSON(raw)
	if err != nil {
		return err
	}

	unsubscribe := a.logEvents(ctx)
	defer unsubscribe()

	result, err := a.engine.Execute(ctx, req)
	if err != nil {
		return err
	}
	if result.Status != schema.RunStatusCompleted {
		if result.Err != nil {
			return result.Err
		}
		return fmt.Errorf("run %s finished with status %s", result.RunID, result.Status)
	}

	fmt.Printf("# %s\n\n%s\n", result.Title, result.Content)
	a.logger.Info("run completed",
		slog.String("run_id", result.RunID),
		slog.String("strategy", string(result.Strategy)),
		slog.Float64("overall", result.Overall),
		slog.Int("passes", len(result.Passes)),
	)
	return nil
}

// pipelineRunner adapts the engine to the scheduler's runner interface.
type pipelineRunner struct {
	eng *engine.Engine
}

func (r *pipelineRunner) Generate(ctx context.Context, req *schema.Requirements) error {
	result, err := r.eng.Execute(ctx, req)
	if err != nil {
		return err
	}
	if result.Err != nil {
		return result.Err
	}
	return nil
}

func cmdSchedule(args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	settings := fs.String("settings", "", "path to settings.json")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, loadConfig(*settings))
	if err != nil {
		return err
	}
	defer a.Close()

	unsubscribe := a.logEvents(ctx)
	defer unsubscribe()

	sched := scheduler.New(a.store, &pipelineRunner{eng: a.engine}, a.cfg.PoolSize, a.logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		a.logger.Warn("missed-job recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return sched.Stop()
}

func cmdJobs(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("jobs: expected add, list or rm")
	}
	switch args[0] {
	case "add":
		return cmdJobsAdd(args[1:])
	case "list":
		return cmdJobsList(args[1:])
	case "rm":
		return cmdJobsRemove(args[1:])
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
}

func openStore(ctx context.Context, settings string) (*store.LibSQLStore, error) {
	cfg := loadConfig(settings)
	if err := os.MkdirAll(fablerDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func cmdJobsAdd(args []string) error {
	fs := flag.NewFlagSet("jobs add", flag.ExitOnError)
	name := fs.String("name", "", "job name")
	cronExpr := fs.String("cron", "", "cron expression, e.g. \"0 3 * * *\"")
	reqPath := fs.String("requirements", "", "path to requirements JSON")
	settings := fs.String("settings", "", "path to settings.json")
	_ = fs.Parse(args)

	if *name == "" || *cronExpr == "" || *reqPath == "" {
		return fmt.Errorf("jobs add: -name, -cron and -requirements are required")
	}

	raw, err := os.ReadFile(*reqPath)
	if err != nil {
		return fmt.Errorf("read requirements: %w", err)
	}
	validator, err := validation.NewRequirementsValidator()
	if err != nil {
		return err
	}
	if _, err := validator.ValidateJSON(raw); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, *settings)
	if err != nil {
		return err
	}
	defer st.Close()

	job := &store.ScheduledJob{
		ID:             newJobID(),
		Name:           *name,
		CronExpression: *cronExpr,
		Requirements:   raw,
		Enabled:        true,
	}
	sched := scheduler.New(st, nil, 1, slog.Default())
	next, err := sched.CalculateNextRun(*cronExpr, time.Now().UTC())
	if err != nil {
		return err
	}
	job.NextRunAt = &next

	if err := st.CreateScheduledJob(ctx, job); err != nil {
		return err
	}
	fmt.Printf("created job %s (next run %s)\n", job.ID, next.Format(time.RFC3339))
	return nil
}

func newJobID() string {
	return uuid.NewString()
}

func cmdJobsList(args []string) error {
	fs := flag.NewFlagSet("jobs list", flag.ExitOnError)
	settings := fs.String("settings", "", "path to settings.json")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, err := openStore(ctx, *settings)
	if err != nil {
		return err
	}
	defer st.Close()

	jobs, err := st.ListScheduledJobs(ctx, store.ScheduledJobFilter{})
	if err != nil {
		return err
	}
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		next := "-"
		if j.NextRunAt != nil {
			next = j.NextRunAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-20s  %-12s  %s  next=%s  last=%s\n",
			j.ID, j.Name, state, j.CronExpression, next, j.LastRunStatus)
	}
	return nil
}

func cmdJobsRemove(args []string) error {
	fs := flag.NewFlagSet("jobs rm", flag.ExitOnError)
	id := fs.String("id", "", "job ID")
	settings := fs.String("settings", "", "path to settings.json")
	_ = fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("jobs rm: -id is required")
	}

	ctx := context.Background()
	st, err := openStore(ctx, *settings)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.DeleteScheduledJob(ctx, *id)
}
