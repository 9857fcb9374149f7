package main

import (
	"encoding/json"
	"fmt"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/diskusage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Show cache drive and array usage",
	RunE:  showDisk,
}

func init() {
	diskCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func showDisk(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := config.NewManager(readAppFlags(cmd).configDir)
	if err != nil {
		return err
	}
	settings, err := cfg.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	report := diskusage.NewReport(settings)
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := newTable(out, table.Row{"Drive", "Path", "Used", "Size", "Free"}, 3, 4, 5)
	tw.AppendRow(usageRow("Cache", report.Cache, report.CacheError))
	tw.AppendRow(usageRow("Array", report.Array, report.ArrayError))
	tw.Render()
	fmt.Fprintf(out, "Threshold: %d%%", report.Threshold)
	if report.OverThreshold {
		fmt.Fprint(out, " (exceeded)")
	}
	fmt.Fprintln(out)
	return nil
}

func usageRow(label string, u *diskusage.Usage, errText string) table.Row {
	if u == nil {
		return table.Row{label, "unavailable: " + errText, "", "", ""}
	}
	const gib = 1 << 30
	return table.Row{
		label,
		u.Path,
		fmt.Sprintf("%.1f%%", u.UsedPercent),
		fmt.Sprintf("%.1f GiB", float64(u.Total)/gib),
		fmt.Sprintf("%.1f GiB", float64(u.Free)/gib),
	}
}
