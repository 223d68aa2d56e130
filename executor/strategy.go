package executor

import (
	"context"
	"math"

	"github.com/taku247/long-trader-sub006/artifact"
	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/series"
)

// A long entry is considered only when price sits within this fraction of the
// support level; further away the stop distance makes the position pointless.
const supportProximityPct = 0.05

// Risk fraction of equity per trade. Leverage is sized so a stop-out loses
// about this much of the account.
const riskPerTradePct = 0.02

// SupportBounceEvaluator is the built-in long-only strategy: enter near a
// support level while price holds above its moving average, with leverage
// sized off the distance to the support (a nearer support means a tighter
// stop and supports more leverage, up to the config's cap).
type SupportBounceEvaluator struct{}

// Evaluate simulates the strategy bar by bar over the clamped window. At bar
// i only s[:i+1] is consulted; the remaining bars exist solely to resolve the
// exit of a position opened at i.
func (SupportBounceEvaluator) Evaluate(ctx context.Context, s series.Series, cfg StrategyConfig) (*Evaluation, error) {
	if cfg.SMAPeriod <= 0 || cfg.SupportWindow <= 0 || cfg.MaxHoldBars <= 0 {
		return nil, errors.NewValidationError("strategy config %q has non-positive periods", cfg.Name)
	}

	warmup := cfg.SMAPeriod
	if cfg.SupportWindow > warmup {
		warmup = cfg.SupportWindow
	}

	var trades []artifact.Trade
	for i := warmup; i < len(s)-1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		knowable := s[:i+1]
		entry := openSignal(knowable, cfg)
		if entry == nil {
			continue
		}

		trade, exitBar := resolveExit(s, i, *entry, cfg)
		trades = append(trades, trade)
		i = exitBar
	}

	return &Evaluation{Trades: trades, Metrics: computeMetrics(trades)}, nil
}

type entrySignal struct {
	price    float64
	stop     float64
	target   float64
	leverage float64
}

// openSignal decides whether a long opens at the last bar of the knowable
// window, and with what sizing.
func openSignal(knowable series.Series, cfg StrategyConfig) *entrySignal {
	last := knowable[len(knowable)-1]
	sma := series.SMA(knowable, cfg.SMAPeriod)
	support := series.SupportLevel(knowable, cfg.SupportWindow)
	if sma == 0 || support <= 0 {
		return nil
	}
	if last.Close <= sma {
		return nil
	}

	distance := (last.Close - support) / last.Close
	if distance <= 0 || distance > supportProximityPct {
		return nil
	}

	stop := last.Close * (1 - cfg.StopLossPct)
	if support > stop {
		stop = support
	}
	stopDistance := (last.Close - stop) / last.Close
	if stopDistance <= 0 {
		return nil
	}

	leverage := riskPerTradePct / stopDistance
	if leverage > cfg.MaxLeverage {
		leverage = cfg.MaxLeverage
	}
	if leverage < 1 {
		leverage = 1
	}

	// Cap the target below recent resistance when that leaves a profitable
	// exit; price stalling under the prior high is the common failure of an
	// uncapped take-profit.
	target := last.Close * (1 + cfg.TakeProfitPct)
	if resistance := series.ResistanceLevel(knowable, cfg.SupportWindow); resistance > last.Close && resistance < target {
		target = resistance
	}

	return &entrySignal{
		price:    last.Close,
		stop:     stop,
		target:   target,
		leverage: leverage,
	}
}

// resolveExit walks forward from the entry bar until the stop or target is
// touched or the hold limit expires. Returns the trade and the bar index it
// closed on.
func resolveExit(s series.Series, entryBar int, sig entrySignal, cfg StrategyConfig) (artifact.Trade, int) {
	lastBar := entryBar + cfg.MaxHoldBars
	if lastBar > len(s)-1 {
		lastBar = len(s) - 1
	}

	exitBar := lastBar
	exitPrice := s[lastBar].Close
	for j := entryBar + 1; j <= lastBar; j++ {
		if s[j].Low <= sig.stop {
			exitBar, exitPrice = j, sig.stop
			break
		}
		if s[j].High >= sig.target {
			exitBar, exitPrice = j, sig.target
			break
		}
	}

	return artifact.Trade{
		EntryTime:   s[entryBar].Timestamp,
		ExitTime:    s[exitBar].Timestamp,
		EntryPrice:  sig.price,
		ExitPrice:   exitPrice,
		StopPrice:   sig.stop,
		TargetPrice: sig.target,
		Leverage:    sig.leverage,
		Side:        "long",
		PnLPct:      (exitPrice - sig.price) / sig.price * sig.leverage,
	}, exitBar
}

// computeMetrics summarizes a non-empty trade list. Metrics for an empty list
// come from ledger.NeutralMetrics, never from here.
func computeMetrics(trades []artifact.Trade) ledger.Metrics {
	if len(trades) == 0 {
		return ledger.NeutralMetrics()
	}

	wins := 0
	totalReturn := 0.0
	totalLeverage := 0.0
	returns := make([]float64, len(trades))
	for i, t := range trades {
		if t.PnLPct > 0 {
			wins++
		}
		totalReturn += t.PnLPct
		totalLeverage += t.Leverage
		returns[i] = t.PnLPct
	}

	winRate := float64(wins) / float64(len(trades))
	avgLeverage := totalLeverage / float64(len(trades))
	sharpe := sharpeRatio(returns)
	drawdown := maxDrawdown(returns)

	return ledger.Metrics{
		TotalTrades: len(trades),
		WinRate:     &winRate,
		TotalReturn: &totalReturn,
		SharpeRatio: &sharpe,
		MaxDrawdown: &drawdown,
		AvgLeverage: &avgLeverage,
	}
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// maxDrawdown returns the deepest peak-to-trough decline of the cumulative
// return path, as a positive fraction.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}
