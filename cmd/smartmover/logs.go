package main

import (
	"fmt"

	"github.com/caevv/smartmover/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the run log",
	Long: `Print the tail of the run log.

Example:
  smartmover logs --lines 100 --level ERROR`,
	RunE: showLogs,
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the run log",
	RunE:  clearLogs,
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 200, "Number of trailing lines to print (0 for all)")
	logsCmd.Flags().String("level", "ALL", "Only print lines tagged [LEVEL] (DEBUG, INFO, ERROR or ALL)")
	logsCmd.AddCommand(logsClearCmd)
}

func showLogs(cmd *cobra.Command, args []string) error {
	lines, _ := cmd.Flags().GetInt("lines")
	level, _ := cmd.Flags().GetString("level")

	cfg, err := config.NewManager(readAppFlags(cmd).configDir)
	if err != nil {
		return err
	}

	content, err := cfg.ReadLogs(lines, level)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}

func clearLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewManager(readAppFlags(cmd).configDir)
	if err != nil {
		return err
	}
	if err := cfg.ClearLogs(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logs cleared")
	return nil
}
