package orchestrator

import "github.com/taku247/long-trader-sub006/executor"

// DefaultTimeframes is the timeframe fan-out for a symbol addition. Every
// resolved strategy config is evaluated once per timeframe.
var DefaultTimeframes = []string{"5m", "15m", "1h", "4h", "1d", "1w"}

// DefaultConfigs returns the built-in named strategy configs. Records are
// flat and immutable; tasks reference them by name only, so a completed
// task's results stay interpretable after the fact.
func DefaultConfigs() map[string]executor.StrategyConfig {
	return map[string]executor.StrategyConfig{
		"conservative": {
			Name:          "conservative",
			MaxLeverage:   3,
			StopLossPct:   0.02,
			TakeProfitPct: 0.04,
			SMAPeriod:     50,
			SupportWindow: 100,
			MaxHoldBars:   48,
		},
		"balanced": {
			Name:          "balanced",
			MaxLeverage:   10,
			StopLossPct:   0.03,
			TakeProfitPct: 0.06,
			SMAPeriod:     20,
			SupportWindow: 50,
			MaxHoldBars:   24,
		},
		"aggressive": {
			Name:          "aggressive",
			MaxLeverage:   20,
			StopLossPct:   0.05,
			TakeProfitPct: 0.10,
			SMAPeriod:     10,
			SupportWindow: 30,
			MaxHoldBars:   12,
		},
	}
}
