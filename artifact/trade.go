// Package artifact persists compressed per-task trade lists, keyed by task
// identity, on the filesystem - physically independent of both ledger stores.
package artifact

import "time"

// Trade is one simulated leveraged trade produced by the evaluator.
type Trade struct {
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	StopPrice   float64   `json:"stop_price,omitempty"`
	TargetPrice float64   `json:"target_price,omitempty"`
	Leverage    float64   `json:"leverage"`
	Side        string    `json:"side,omitempty"` // "long" or "short"
	PnLPct      float64   `json:"pnl_pct"`
}

// Identity addresses an artifact by the owning task's identity. A re-run with
// identical identity overwrites deterministically.
type Identity struct {
	Symbol      string
	Timeframe   string
	ConfigName  string
	ExecutionID string
}
