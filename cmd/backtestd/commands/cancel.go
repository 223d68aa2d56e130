package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CancelCmd cancels an execution cooperatively.
var CancelCmd = &cobra.Command{
	Use:   "cancel EXECUTION_ID",
	Short: "Cancel an execution cooperatively",
	Long: `Cancel an execution cooperatively.

In-flight tasks finish; tasks still pending are marked failed with the
cancelled kind and skipped. The run then settles to its terminal status.

Example:
  backtestd cancel exec_1a2b3c`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(nil)
		if err != nil {
			return err
		}
		defer sys.Close()

		if err := sys.orch.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Execution cancelled: %s\n", args[0])
		return nil
	},
}

func init() {
	CancelCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: long-trader.toml)")
}
