package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/runner"
)

// JobID names the single scheduled mover job.
const JobID = "smart_mover_scheduled_run"

// Runner is the execution path shared with manual runs.
type Runner interface {
	Run(ctx context.Context, opts runner.RunOptions) runner.RunResult
	LogEvent(level, msg string) error
}

// SettingsSource returns the current settings.
type SettingsSource interface {
	Load() (config.Settings, error)
}

// moverJob is the cron.Job installed under JobID. Every fire re-reads
// settings so that dry_run reflects the file at fire time.
type moverJob struct {
	ctx      context.Context
	settings SettingsSource
	runner   Runner
	logger   *slog.Logger
}

func (j *moverJob) Run() {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("scheduled run panicked", slog.String("job_id", JobID), slog.Any("panic", r))
		}
	}()

	settings, err := j.settings.Load()
	if err != nil {
		j.logger.Error("scheduled run skipped: load settings failed",
			slog.String("job_id", JobID),
			slog.String("error", err.Error()))
		return
	}

	if err := j.runner.LogEvent("INFO", fmt.Sprintf("Scheduled run triggered (cron: %s)", settings.ScheduleCron)); err != nil {
		j.logger.Warn("failed to write run log event", slog.String("error", err.Error()))
	}

	j.logger.Info("starting scheduled run",
		slog.String("job_id", JobID),
		slog.String("cron", settings.ScheduleCron),
		slog.Bool("dry_run", settings.DryRun))

	start := time.Now()
	dryRun := settings.DryRun
	result := j.runner.Run(j.ctx, runner.RunOptions{DryRun: &dryRun})

	if !result.Success {
		j.logger.Error("scheduled run failed",
			slog.String("job_id", JobID),
			slog.String("run_id", result.RunID),
			slog.Int("return_code", result.ReturnCode),
			slog.String("error", result.Error),
			slog.Duration("duration", time.Since(start)))
		return
	}

	j.logger.Info("scheduled run completed",
		slog.String("job_id", JobID),
		slog.String("run_id", result.RunID),
		slog.Int("files_moved", result.FilesMoved),
		slog.Duration("duration", time.Since(start)))
}
