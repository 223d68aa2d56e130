package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/taku247/long-trader-sub006/orchestrator"
)

// ConfigsCmd lists registered strategy configurations.
var ConfigsCmd = &cobra.Command{
	Use:   "configs",
	Short: "List registered strategy configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs := orchestrator.DefaultConfigs()
		names := make([]string, 0, len(configs))
		for name := range configs {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("%d strategy config(s):\n", len(names))
		for _, name := range names {
			cfg := configs[name]
			fmt.Printf("  %-14s lev<=%.0fx stop=%.0f%% target=%.0f%% sma=%d support=%d hold<=%d\n",
				cfg.Name, cfg.MaxLeverage, cfg.StopLossPct*100, cfg.TakeProfitPct*100,
				cfg.SMAPeriod, cfg.SupportWindow, cfg.MaxHoldBars)
		}
		fmt.Printf("\nTimeframes: %v\n", orchestrator.DefaultTimeframes)
		return nil
	},
}
