package ledger

import (
	"database/sql"
)

// TaskScanArgs holds the nullable columns needed when scanning a task row.
type TaskScanArgs struct {
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
	WinRate     sql.NullFloat64
	TotalReturn sql.NullFloat64
	SharpeRatio sql.NullFloat64
	MaxDrawdown sql.NullFloat64
	AvgLeverage sql.NullFloat64
}

// taskScanTargets returns scan destinations for the task and its nullable
// args, in the order of taskSelectColumns.
func taskScanTargets(task *StrategyTask, args *TaskScanArgs) []interface{} {
	return []interface{}{
		&task.TaskID,
		&task.ExecutionID,
		&task.Symbol,
		&task.Timeframe,
		&task.ConfigName,
		&task.Status,
		&task.AsOf,
		&task.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&task.RetryCount,
		&task.ErrorKind,
		&task.ErrorMessage,
		&task.ResultStatus,
		&task.Metrics.TotalTrades,
		&args.WinRate,
		&args.TotalReturn,
		&args.SharpeRatio,
		&args.MaxDrawdown,
		&args.AvgLeverage,
		&task.ArtifactRef,
	}
}

// applyTaskScanArgs copies the nullable columns into the task struct.
func applyTaskScanArgs(task *StrategyTask, args *TaskScanArgs) {
	if args.StartedAt.Valid {
		task.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		task.CompletedAt = &args.CompletedAt.Time
	}
	if args.WinRate.Valid {
		task.Metrics.WinRate = &args.WinRate.Float64
	}
	if args.TotalReturn.Valid {
		task.Metrics.TotalReturn = &args.TotalReturn.Float64
	}
	if args.SharpeRatio.Valid {
		task.Metrics.SharpeRatio = &args.SharpeRatio.Float64
	}
	if args.MaxDrawdown.Valid {
		task.Metrics.MaxDrawdown = &args.MaxDrawdown.Float64
	}
	if args.AvgLeverage.Valid {
		task.Metrics.AvgLeverage = &args.AvgLeverage.Float64
	}
}

// scanTaskFromRows scans a single task from sql.Rows (for use in loops).
func scanTaskFromRows(rows *sql.Rows, task *StrategyTask) error {
	args := &TaskScanArgs{}
	if err := rows.Scan(taskScanTargets(task, args)...); err != nil {
		return err
	}
	applyTaskScanArgs(task, args)
	return nil
}

// taskSelectColumns is the standard column list for task SELECT queries.
func taskSelectColumns() string {
	return `task_id, execution_id, symbol, timeframe, config_name, task_status,
		as_of, created_at, started_at, completed_at,
		retry_count, error_kind, error_message,
		result_status, total_trades, win_rate, total_return,
		sharpe_ratio, max_drawdown, avg_leverage, artifact_ref`
}

// nullFloat converts an optional metric for binding.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
