package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/scheduler"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the settings file and the mover script",
	Long: `Validate the settings file without starting anything.

It checks for:
  - Valid YAML syntax and field values
  - A valid cron expression when the schedule is enabled
  - An existing mover script

Example:
  smartmover validate --config-dir /config`,
	RunE: validateSettings,
}

func validateSettings(cmd *cobra.Command, args []string) error {
	flags := readAppFlags(cmd)

	cfg, err := config.NewManager(flags.configDir)
	if err != nil {
		return err
	}

	logger.Info("validating settings", "path", cfg.SettingsPath())

	settings, err := config.LoadSettings(cfg.SettingsPath())
	if err != nil {
		logger.Error("settings validation failed", "error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	var problems []string

	next := "disabled"
	if settings.ScheduleEnabled {
		loc := scheduler.Location(logger)
		t, err := scheduler.NextRun(settings.ScheduleCron, time.Now().In(loc))
		if err != nil {
			problems = append(problems, err.Error())
			next = "invalid"
		} else {
			next = t.Format(time.RFC3339)
		}
	}

	if _, err := os.Stat(flags.script); err != nil {
		problems = append(problems, fmt.Sprintf("script not found: %s", flags.script))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Settings: %s\n", cfg.SettingsPath())
	fmt.Fprintf(out, "  Jellyfin: %s (api key set: %t)\n", settings.JellyfinURL, settings.JellyfinAPIKey != "")
	fmt.Fprintf(out, "  Cache: %s (threshold %d%%)\n", settings.CacheDrive, settings.CacheThreshold)
	fmt.Fprintf(out, "  Array: %s\n", settings.ArrayPath)
	fmt.Fprintf(out, "  Mode: %s\n", modeName(settings.DryRun))
	fmt.Fprintf(out, "  Schedule: %q, next run: %s\n", settings.ScheduleCron, next)
	fmt.Fprintf(out, "  Script: %s\n", flags.script)

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", p)
		}
		return fmt.Errorf("validation failed with %d problem(s)", len(problems))
	}

	fmt.Fprintln(out, "\n✓ Settings are valid")
	return nil
}
