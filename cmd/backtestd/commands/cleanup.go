package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupRetention time.Duration

// CleanupCmd deletes terminal runs older than the retention window.
var CleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal runs older than the retention window",
	Long: `Delete terminal runs older than the retention window.

Removes each expired run's artifacts and task rows first, then the run
itself, so an interrupted cleanup never leaves orphaned tasks.

Example:
  backtestd cleanup --retention 720h   # 30 days`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(nil)
		if err != nil {
			return err
		}
		defer sys.Close()

		report, err := sys.orch.CleanupOldRuns(cmd.Context(), cleanupRetention)
		if err != nil {
			return err
		}
		fmt.Printf("Cleaned up %d run(s), %d task(s), %d artifact(s).\n",
			report.Runs, report.Tasks, report.Artifacts)
		return nil
	},
}

func init() {
	CleanupCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: long-trader.toml)")
	CleanupCmd.Flags().DurationVar(&cleanupRetention, "retention", 30*24*time.Hour, "Keep terminal runs younger than this")
}
