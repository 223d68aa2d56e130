package notify

import (
	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/logger"
)

// LogNotifier emits lifecycle events as structured log lines. Always safe to
// use; the default when no webhook is configured.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogNotifier{logger: log.Named("notify")}
}

func (n *LogNotifier) TaskStarted(task *ledger.StrategyTask) {
	n.logger.Infow("Task started",
		logger.FieldExecutionID, task.ExecutionID,
		logger.FieldTaskID, task.TaskID,
		logger.FieldSymbol, task.Symbol,
		logger.FieldTimeframe, task.Timeframe,
		logger.FieldConfigName, task.ConfigName,
	)
}

func (n *LogNotifier) TaskCompleted(task *ledger.StrategyTask) {
	n.logger.Infow("Task completed",
		logger.FieldExecutionID, task.ExecutionID,
		logger.FieldTaskID, task.TaskID,
		logger.FieldSymbol, task.Symbol,
		logger.FieldTimeframe, task.Timeframe,
		logger.FieldConfigName, task.ConfigName,
		"result_status", string(task.ResultStatus),
		"total_trades", task.Metrics.TotalTrades,
	)
}

func (n *LogNotifier) TaskFailed(task *ledger.StrategyTask, kind string, detail string) {
	n.logger.Warnw("Task failed",
		logger.FieldExecutionID, task.ExecutionID,
		logger.FieldTaskID, task.TaskID,
		logger.FieldSymbol, task.Symbol,
		logger.FieldTimeframe, task.Timeframe,
		logger.FieldConfigName, task.ConfigName,
		logger.FieldErrorKind, kind,
		logger.FieldError, detail,
		logger.FieldRetry, task.RetryCount,
	)
}

func (n *LogNotifier) TaskSkipped(executionID, taskID, detail string) {
	n.logger.Infow("Task skipped",
		logger.FieldExecutionID, executionID,
		logger.FieldTaskID, taskID,
		"detail", detail,
	)
}

func (n *LogNotifier) RunFinished(executionID string, status ledger.RunStatus, progress ledger.Progress) {
	n.logger.Infow("Run finished",
		logger.FieldExecutionID, executionID,
		logger.FieldStatus, string(status),
		logger.FieldCompleted, progress.Completed,
		logger.FieldFailed, progress.Failed,
		logger.FieldTotal, progress.Total,
	)
}
