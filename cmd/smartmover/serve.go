package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/scheduler"
	"github.com/caevv/smartmover/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Long: `Start the mover daemon.

This command starts the cron scheduler from the settings file, watches the
settings file for edits, and serves the JSON HTTP API for manual runs,
status, history, logs and settings.

Example:
  smartmover serve --config-dir /config --addr :7878`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", ":7878", "HTTP server address (host:port)")
	serveCmd.Flags().Bool("watch", true, "Reload the schedule when the settings file changes on disk")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	watch, _ := cmd.Flags().GetBool("watch")
	flags := readAppFlags(cmd)

	a, err := newApp(flags, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	settings, err := a.cfg.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	logger.Info("starting smartmover in serve mode",
		"config_dir", flags.configDir,
		"script", flags.script,
		"addr", addr,
		"dry_run", settings.DryRun,
		"schedule_enabled", settings.ScheduleEnabled)

	ctx := setupSignalHandler()

	sched, err := scheduler.New(ctx, a.cfg, a.coord, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	var watcher *config.Watcher
	if watch {
		watcher, err = config.NewWatcher(a.cfg, sched.UpdateSchedule, logger)
		if err != nil {
			return fmt.Errorf("failed to watch settings: %w", err)
		}
	}

	srv := server.New(addr, server.Deps{
		Runner:    a.coord,
		Scheduler: sched,
		Settings:  a.cfg,
		History:   a.history,
	}, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("scheduler error: %w", err)
		}
		if watcher != nil {
			watcher.Start()
		}
		<-gCtx.Done()
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Shutdown handler
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down gracefully...")

		if watcher != nil {
			if err := watcher.Close(); err != nil {
				logger.Error("error closing settings watcher", "error", err)
			}
		}
		sched.Stop()
		if err := srv.Stop(context.Background()); err != nil {
			logger.Error("error stopping server", "error", err)
		}
		srv.Wait()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("error during execution", "error", err)
		return err
	}

	logger.Info("smartmover stopped")
	return nil
}
