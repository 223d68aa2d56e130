package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taku247/long-trader-sub006/cmd/backtestd/commands"
	"github.com/taku247/long-trader-sub006/logger"
)

var rootCmd = &cobra.Command{
	Use:   "backtestd",
	Short: "backtestd - leveraged backtest orchestrator",
	Long: `backtestd - scalable backtest task orchestrator.

Expands a symbol addition into (symbol, timeframe, strategy-config) backtest
tasks, runs them on a bounded worker pool against the embedded task ledger,
and persists per-task trade lists as compressed artifacts.

Available commands:
  add     - Register a symbol and run its backtest fan-out
  status  - Show an execution's progress and per-task breakdown
  cancel  - Cancel an execution cooperatively
  orphans - Report or remediate tasks with dangling execution references
  cleanup - Delete terminal runs older than the retention window
  verify  - Verify cross-store reference enforcement
  configs - List registered strategy configurations

Examples:
  backtestd add BTC                      # All configs, all timeframes
  backtestd add ETH --configs balanced   # One config only
  backtestd status exec_1a2b3c           # Progress query
  backtestd orphans --remediate          # Reconcile dangling references`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.AddCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.OrphansCmd)
	rootCmd.AddCommand(commands.CleanupCmd)
	rootCmd.AddCommand(commands.VerifyCmd)
	rootCmd.AddCommand(commands.ConfigsCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
