package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs, newest first",
	RunE:  showHistory,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded run",
	RunE:  clearHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().Bool("json", false, "Print records as JSON")
	historyCmd.AddCommand(historyClearCmd)
}

func openHistory(cmd *cobra.Command) (store.Store, error) {
	flags := readAppFlags(cmd)
	cfg, err := config.NewManager(flags.configDir)
	if err != nil {
		return nil, err
	}
	return store.NewStore(flags.driver, cfg.HistoryPath(flags.driver))
}

func showHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	st, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(limit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if records == nil {
			records = []store.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	tw := newTable(out, table.Row{"Time", "Mode", "Result", "Duration", "Moved", "Run ID"}, 4, 5)
	for _, r := range records {
		result := "success"
		if !r.Success {
			result = "failed"
		}
		tw.AppendRow(table.Row{
			r.Timestamp.Local().Format(time.DateTime),
			r.Mode(),
			result,
			fmt.Sprintf("%.1fs", r.DurationSeconds),
			r.FilesMoved,
			r.RunID,
		})
	}
	tw.Render()
	return nil
}

func clearHistory(cmd *cobra.Command, args []string) error {
	st, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Clear(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
	return nil
}
