package commands

import (
	"github.com/spf13/cobra"
)

// StatusCmd shows an execution's progress and per-task breakdown.
var StatusCmd = &cobra.Command{
	Use:   "status EXECUTION_ID",
	Short: "Show an execution's progress and per-task breakdown",
	Long: `Show an execution's progress and per-task breakdown.

Safe at any time, including mid-run: partial results are always queryable.

Example:
  backtestd status exec_1a2b3c`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(nil)
		if err != nil {
			return err
		}
		defer sys.Close()

		status, err := sys.orch.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus(status)
		return nil
	},
}

func init() {
	StatusCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: long-trader.toml)")
}
