package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taku247/long-trader-sub006/integrity"
	"github.com/taku247/long-trader-sub006/logger"
	"github.com/taku247/long-trader-sub006/marketdata"
	"github.com/taku247/long-trader-sub006/orchestrator"
)

var (
	addMode    string
	addConfigs []string
	addAsOf    string
	addDataDir string
	addNoWait  bool
)

// AddCmd registers a symbol and runs its backtest fan-out.
var AddCmd = &cobra.Command{
	Use:   "add SYMBOL",
	Short: "Register a symbol and run its backtest fan-out",
	Long: `Register a symbol and run its backtest fan-out.

Expands the symbol into one task per (timeframe, strategy config) pair,
registers the execution in the ledger and processes the tasks on the worker
pool. By default the command waits for the execution to finish and prints the
result; --no-wait returns right after registration.

Market data is read from --data-dir as <dir>/<SYMBOL>/<timeframe>.json
(optionally gzipped).

Examples:
  backtestd add BTC
  backtestd add ETH --configs balanced --configs aggressive
  backtestd add SOL --as-of 2025-06-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := args[0]

		var asOf time.Time
		if addAsOf != "" {
			parsed, err := time.Parse(time.RFC3339, addAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of (want RFC3339): %w", err)
			}
			asOf = parsed.UTC()
		}

		mode := addMode
		if len(addConfigs) > 0 && mode == orchestrator.ModeDefault {
			mode = orchestrator.ModeSelected
		}

		sys, err := openSystem(marketdata.NewFSProvider(addDataDir, logger.Logger))
		if err != nil {
			return err
		}
		defer sys.Close()

		// The reconciliation sweep runs alongside the execution while the
		// command is resident.
		if !addNoWait && sys.cfg.Policy.SweepIntervalMinutes > 0 {
			sweeper := integrity.NewSweeper(sys.guard, sys.cfg.Policy.OrphanRemediation,
				time.Duration(sys.cfg.Policy.SweepIntervalMinutes)*time.Minute, logger.Logger)
			if err := sweeper.Start(); err != nil {
				return err
			}
			defer sweeper.Stop()
		}

		ctx := cmd.Context()
		execID, err := sys.orch.AddSymbol(ctx, orchestrator.AddSymbolRequest{
			Symbol:        symbol,
			Mode:          mode,
			Configs:       addConfigs,
			AsOf:          asOf,
			TriggerSource: "cli",
		})
		if err != nil {
			return err
		}
		fmt.Printf("Execution registered: %s\n", execID)

		if addNoWait {
			return nil
		}
		if err := sys.orch.Wait(ctx, execID); err != nil {
			return err
		}

		status, err := sys.orch.GetStatus(ctx, execID)
		if err != nil {
			return err
		}
		printStatus(status)
		return nil
	},
}

func init() {
	AddCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: long-trader.toml)")
	AddCmd.Flags().StringVar(&addMode, "mode", orchestrator.ModeDefault, "Config resolution mode (default|selected)")
	AddCmd.Flags().StringArrayVar(&addConfigs, "configs", nil, "Strategy config names (implies --mode selected)")
	AddCmd.Flags().StringVar(&addAsOf, "as-of", "", "Decision-time boundary, RFC3339 (default: now)")
	AddCmd.Flags().StringVar(&addDataDir, "data-dir", "data", "Directory holding materialized candle series")
	AddCmd.Flags().BoolVar(&addNoWait, "no-wait", false, "Return after registration instead of waiting")
}

func printStatus(status *orchestrator.Status) {
	fmt.Printf("Execution: %s (%s)\n", status.ExecutionID, status.Symbol)
	fmt.Printf("  Status:    %s\n", status.Status)
	fmt.Printf("  Completed: %d/%d (failed: %d, pending: %d, running: %d)\n",
		status.Completed, status.Total, status.Failed, status.Pending, status.Running)
	for _, entry := range status.PerTask {
		line := fmt.Sprintf("  %-4s %-14s %s", entry.Timeframe, entry.ConfigName, entry.Status)
		if entry.ResultStatus != "" {
			line += fmt.Sprintf(" (%s)", entry.ResultStatus)
		}
		if entry.ErrorKind != "" {
			line += fmt.Sprintf(" [%s, retries=%d]", entry.ErrorKind, entry.RetryCount)
		}
		fmt.Println(line)
	}
}
