package main

import (
	"fmt"
	"log/slog"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/runner"
	"github.com/caevv/smartmover/internal/store"
	"github.com/spf13/cobra"
)

// app bundles the collaborators every command builds from the root flags.
type app struct {
	cfg     *config.Manager
	history store.Store
	coord   *runner.Coordinator
}

// appFlags are the persistent flags newApp reads.
type appFlags struct {
	configDir string
	script    string
	shell     string
	driver    string
}

func readAppFlags(cmd *cobra.Command) appFlags {
	f := appFlags{}
	f.configDir, _ = cmd.Flags().GetString("config-dir")
	f.script, _ = cmd.Flags().GetString("script")
	f.shell, _ = cmd.Flags().GetString("shell")
	f.driver, _ = cmd.Flags().GetString("store")
	return f
}

func newApp(f appFlags, logger *slog.Logger) (*app, error) {
	cfg, err := config.NewManager(f.configDir)
	if err != nil {
		return nil, err
	}
	cfg.SetLogger(logger)

	history, err := store.NewStore(f.driver, cfg.HistoryPath(f.driver))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	coord, err := runner.NewCoordinator(runner.NewState(), cfg, history, runner.Options{
		ScriptPath: f.script,
		Shell:      f.shell,
		LogPath:    cfg.LogFile(),
		LockPath:   cfg.LockFile(),
	}, logger)
	if err != nil {
		history.Close()
		return nil, err
	}

	logger.Debug("application initialized",
		"config_dir", cfg.Dir(),
		"script", f.script,
		"store_driver", f.driver)

	return &app{cfg: cfg, history: history, coord: coord}, nil
}

func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
}
