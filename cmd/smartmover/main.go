package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caevv/smartmover/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global logger
	logger = slog.Default()
)

func main() {
	logger = logging.New("info")
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "smartmover",
	Short: "Move watched media from the cache drive to the array",
	Long: `smartmover runs the smart mover script, which moves media that has been
watched in Jellyfin from the cache drive to the array once the cache fills
past a threshold.

Features:
  - Single-flight execution shared by manual and scheduled runs
  - Live STATUS: progress reporting
  - Structured run log and bounded run history
  - Cron schedule reloaded from the settings file
  - JSON HTTP API`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Bool("debug", false, "Enable debug logging")
	pf.String("config-dir", envOr("SMARTMOVER_CONFIG_DIR", "/config"), "Directory holding settings, logs and history")
	pf.String("script", envOr("SMARTMOVER_SCRIPT", "/app/smart_mover.sh"), "Path to the mover script")
	pf.String("shell", "bash", "Shell used to run the script")
	pf.String("store", "bbolt", "History store driver (bbolt, json or sqlite)")
	pf.String("log-format", "json", "Process log format (json or text)")
	pf.String("log-level", "info", "Process log level (debug, info, warn, error)")
	pf.String("log-output", "stderr", "Process log output (stderr, stdout, discard or a file path)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("log-format")
		level, _ := cmd.Flags().GetString("log-level")
		output, _ := cmd.Flags().GetString("log-output")
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			level = "debug"
		}

		l, err := logging.NewFromConfig(format, level, output)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		slog.SetDefault(logger)
		logger.Debug("debug logging enabled")
		return nil
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(diskCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// setupSignalHandler creates a context that cancels on SIGINT or SIGTERM
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()

		// Force exit if second signal received
		sig = <-sigChan
		logger.Warn("received second signal, forcing exit", "signal", sig.String())
		os.Exit(1)
	}()

	return ctx
}
