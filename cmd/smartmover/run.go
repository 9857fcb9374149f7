package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/caevv/smartmover/internal/runner"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mover script once",
	Long: `Run the mover script once in the foreground and stream its output.

The run goes through the same single-flight path as the daemon: it is
recorded in the run log and in the history, and it is refused while another
run holds the lock in the config directory.

Without --dry-run or --live the dry_run setting decides the mode.

Example:
  smartmover run --dry-run`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Force a dry run")
	runCmd.Flags().Bool("live", false, "Force a live run")
	runCmd.Flags().Bool("quiet", false, "Do not stream script output")
	runCmd.MarkFlagsMutuallyExclusive("dry-run", "live")
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := newApp(readAppFlags(cmd), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := runner.RunOptions{DryRun: dryRunOverride(cmd)}
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		opts.OnOutput = lineWriter(cmd.OutOrStdout())
	}

	ctx := setupSignalHandler()
	res := a.coord.Run(ctx, opts)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun %s: ", res.RunID)
	if res.Success {
		fmt.Fprintf(out, "SUCCESS in %.1fs, %d files moved (%s)\n", res.DurationSeconds(), res.FilesMoved, modeName(res.DryRun))
		return nil
	}
	fmt.Fprintf(out, "FAILED (return code %d)\n", res.ReturnCode)
	if res.Error != "" {
		fmt.Fprint(cmd.ErrOrStderr(), res.Error)
	}
	return fmt.Errorf("run failed")
}

func dryRunOverride(cmd *cobra.Command) *bool {
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		b := true
		return &b
	}
	if live, _ := cmd.Flags().GetBool("live"); live {
		b := false
		return &b
	}
	return nil
}

// lineWriter returns an output callback safe for both drain goroutines.
func lineWriter(w io.Writer) func(string) {
	var mu sync.Mutex
	return func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}

func modeName(dryRun bool) string {
	if dryRun {
		return "dry run"
	}
	return "live"
}
