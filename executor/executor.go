// Package executor runs the backtest tasks of an execution on a bounded
// worker pool. Workers coordinate exclusively through the task store's
// compare-and-set claim; they share no in-memory state with each other.
package executor

import (
	"context"

	"github.com/taku247/long-trader-sub006/artifact"
	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/series"
)

// StrategyConfig is a flat, immutable strategy parameter record. Tasks
// reference configs by name only; the record itself never changes after
// registration, so a completed task's results stay interpretable.
type StrategyConfig struct {
	Name          string  `json:"name"`
	MaxLeverage   float64 `json:"max_leverage"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	SMAPeriod     int     `json:"sma_period"`
	SupportWindow int     `json:"support_window"`
	MaxHoldBars   int     `json:"max_hold_bars"`
}

// MarketData supplies the full OHLCV history for a symbol and timeframe.
// Implementations return everything they have; the worker clamps to the
// task's as-of boundary before anything downstream sees the data.
type MarketData interface {
	Series(ctx context.Context, symbol, timeframe string) (series.Series, error)
}

// Evaluation is the outcome of evaluating one strategy over one clamped
// window: the simulated trades and their summary metrics.
type Evaluation struct {
	Trades  []artifact.Trade
	Metrics ledger.Metrics
}

// Evaluator runs a strategy over an already-clamped series. Implementations
// must treat the series as the complete knowable history: the last candle is
// the decision-time present. An empty trade list is a valid outcome.
type Evaluator interface {
	Evaluate(ctx context.Context, s series.Series, cfg StrategyConfig) (*Evaluation, error)
}
