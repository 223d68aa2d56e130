package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VerifyCmd verifies cross-store reference enforcement.
var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify cross-store reference enforcement",
	Long: `Verify cross-store reference enforcement.

Runs a positive probe (a task write against an existing run succeeds) and a
negative probe (a write against a missing run is rejected). Use after a
schema migration before trusting the stores.

Example:
  backtestd verify`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(nil)
		if err != nil {
			return err
		}
		defer sys.Close()

		if err := sys.guard.VerifyEnforcement(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Execution reference enforcement verified.")
		return nil
	},
}

func init() {
	VerifyCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: long-trader.toml)")
}
