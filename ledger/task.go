package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/taku247/long-trader-sub006/errors"
)

// TaskStatus represents the current state of a StrategyTask.
// Transitions are monotonic: pending -> running -> {completed | failed};
// failed may requeue to pending only while retry_count < max.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final (absent an explicit requeue).
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ResultStatus distinguishes how a completed task completed.
type ResultStatus string

const (
	// ResultTrades: the evaluator produced at least one trade.
	ResultTrades ResultStatus = "trades"
	// ResultNoSignal: the strategy found nothing to trade. A valid
	// completion, never an error - distinct from "the system failed".
	ResultNoSignal ResultStatus = "no_signal"
)

// Metrics are the summary statistics persisted on a completed task.
// Pointer fields are NULL for no-signal completions: a strategy that never
// traded has no sharpe ratio, not a zero one.
type Metrics struct {
	TotalTrades int      `json:"total_trades"`
	WinRate     *float64 `json:"win_rate,omitempty"`
	TotalReturn *float64 `json:"total_return,omitempty"`
	SharpeRatio *float64 `json:"sharpe_ratio,omitempty"`
	MaxDrawdown *float64 `json:"max_drawdown,omitempty"`
	AvgLeverage *float64 `json:"avg_leverage,omitempty"`
}

// NeutralMetrics returns the metrics recorded for a no-signal completion.
func NeutralMetrics() Metrics {
	return Metrics{TotalTrades: 0}
}

// StrategyTask is one (symbol, timeframe, config) backtest unit of work
// belonging to an ExecutionRun. (execution_id, symbol, timeframe, config_name)
// is unique within the store. Mutated exclusively by the worker that claimed
// it; never mutated after reaching a terminal status except by explicit requeue.
type StrategyTask struct {
	TaskID      string     `json:"task_id"`
	ExecutionID string     `json:"execution_id"`
	Symbol      string     `json:"symbol"`
	Timeframe   string     `json:"timeframe"`
	ConfigName  string     `json:"config_name"`
	Status      TaskStatus `json:"task_status"`

	// AsOf is the decision-time boundary: no data timestamped after it may
	// reach the evaluator for this task.
	AsOf time.Time `json:"as_of"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount   int    `json:"retry_count"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	ResultStatus ResultStatus `json:"result_status,omitempty"`
	Metrics      Metrics      `json:"metrics"`
	ArtifactRef  string       `json:"artifact_ref,omitempty"`
}

// NewTask creates a pending StrategyTask for an execution.
func NewTask(executionID, symbol, timeframe, configName string, asOf time.Time) (*StrategyTask, error) {
	if executionID == "" {
		return nil, errors.NewValidationError("task requires an execution_id")
	}
	if symbol == "" || timeframe == "" || configName == "" {
		return nil, errors.NewValidationError("task identity (symbol, timeframe, config_name) must be complete")
	}
	return &StrategyTask{
		TaskID:      "task_" + uuid.NewString(),
		ExecutionID: executionID,
		Symbol:      symbol,
		Timeframe:   timeframe,
		ConfigName:  configName,
		Status:      TaskStatusPending,
		AsOf:        asOf.UTC(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Identity returns the uniqueness key within the execution.
func (t *StrategyTask) Identity() string {
	return t.ExecutionID + "/" + t.Symbol + "/" + t.Timeframe + "/" + t.ConfigName
}
