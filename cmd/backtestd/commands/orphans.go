package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var orphansRemediate bool

// OrphansCmd reports or remediates tasks with dangling execution references.
var OrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Report or remediate tasks with dangling execution references",
	Long: `Report or remediate tasks with dangling execution references.

Joins the task store against the execution ledger and lists every task whose
execution_id no longer resolves. With --remediate the orphans are resolved
under the configured policy (delete or reassign to the quarantine run).

Examples:
  backtestd orphans               # Report only
  backtestd orphans --remediate   # Resolve under [policy].orphan_remediation`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(nil)
		if err != nil {
			return err
		}
		defer sys.Close()

		ctx := cmd.Context()
		orphans, err := sys.guard.FindOrphans(ctx)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("No orphaned tasks.")
			return nil
		}

		fmt.Printf("Orphaned tasks: %d\n", len(orphans))
		for _, o := range orphans {
			fmt.Printf("  %s -> %s\n", o.TaskID, o.ExecutionID)
		}

		if !orphansRemediate {
			fmt.Println("Run with --remediate to resolve them.")
			return nil
		}

		remediated, err := sys.guard.Remediate(ctx, orphans, sys.cfg.Policy.OrphanRemediation)
		if err != nil {
			return err
		}
		fmt.Printf("Remediated %d task(s) under policy %q.\n", remediated, sys.cfg.Policy.OrphanRemediation)
		return nil
	},
}

func init() {
	OrphansCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default: long-trader.toml)")
	OrphansCmd.Flags().BoolVar(&orphansRemediate, "remediate", false, "Resolve orphans under the configured policy")
}
