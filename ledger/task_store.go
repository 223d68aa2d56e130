package ledger

import (
	"context"
	"database/sql"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/db"
	"github.com/taku247/long-trader-sub006/errors"
)

// TaskStore handles persistence of StrategyTasks. Every worker opens its own
// TaskStore over its own connection; cross-worker synchronization happens
// exclusively through ClaimNext's compare-and-swap.
type TaskStore struct {
	db     *sql.DB
	retry  db.RetryPolicy
	logger *zap.SugaredLogger
}

// NewTaskStore creates a task store. logger may be nil.
func NewTaskStore(conn *sql.DB, retry db.RetryPolicy, logger *zap.SugaredLogger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TaskStore{db: conn, retry: retry, logger: logger.Named("taskstore")}
}

const insertTaskQuery = `
	INSERT INTO strategy_tasks (
		task_id, execution_id, symbol, timeframe, config_name, task_status,
		as_of, created_at, started_at, completed_at,
		retry_count, error_kind, error_message,
		result_status, total_trades, win_rate, total_return,
		sharpe_ratio, max_drawdown, avg_leverage, artifact_ref
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertTasks persists a batch of tasks atomically within this store: either
// every task row lands or none do. A duplicate (execution_id, symbol,
// timeframe, config_name) identity surfaces as an integrity violation.
func (s *TaskStore) InsertTasks(ctx context.Context, tasks []*StrategyTask) error {
	if len(tasks) == 0 {
		return nil
	}

	_, err := db.Retry(ctx, s.retry, s.logger, "insert tasks", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if _, err := tx.ExecContext(ctx, insertTaskQuery, bindTask(task)...); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewIntegrityError("duplicate task identity in batch: %v", err)
		}
		return errors.Wrap(err, "failed to insert tasks")
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*StrategyTask, error) {
	query := `SELECT ` + taskSelectColumns() + ` FROM strategy_tasks WHERE task_id = ?`

	var task StrategyTask
	args := &TaskScanArgs{}
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(taskScanTargets(&task, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	applyTaskScanArgs(&task, args)
	return &task, nil
}

// ClaimNext atomically claims the oldest pending task of an execution and
// marks it running. Returns nil when no pending task remains.
//
// The claim is an explicit compare-and-swap on task_status: select a
// candidate, then UPDATE guarded by task_status='pending'. A worker that
// loses the race (zero rows affected) simply tries the next candidate. This
// is the only cross-task synchronization in the system.
func (s *TaskStore) ClaimNext(ctx context.Context, executionID string) (*StrategyTask, error) {
	for {
		var taskID string
		err := s.db.QueryRowContext(ctx,
			`SELECT task_id FROM strategy_tasks
			 WHERE execution_id = ? AND task_status = ?
			 ORDER BY created_at, task_id LIMIT 1`,
			executionID, TaskStatusPending,
		).Scan(&taskID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to find pending task")
		}

		now := time.Now().UTC()
		var claimed bool
		_, err = db.Retry(ctx, s.retry, s.logger, "claim task", func() error {
			res, execErr := s.db.ExecContext(ctx,
				`UPDATE strategy_tasks SET task_status = ?, started_at = ?
				 WHERE task_id = ? AND task_status = ?`,
				TaskStatusRunning, now, taskID, TaskStatusPending,
			)
			if execErr != nil {
				return execErr
			}
			rows, execErr := res.RowsAffected()
			if execErr != nil {
				return execErr
			}
			claimed = rows == 1
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim task")
		}
		if !claimed {
			// Lost the race to a sibling worker; try the next candidate.
			continue
		}

		return s.GetTask(ctx, taskID)
	}
}

// MarkCompleted records a successful evaluation: summary metrics, the
// artifact reference and the result status (trades or no_signal).
func (s *TaskStore) MarkCompleted(ctx context.Context, taskID string, result ResultStatus, metrics Metrics, artifactRef string) error {
	now := time.Now().UTC()
	var updated int64
	_, err := db.Retry(ctx, s.retry, s.logger, "complete task", func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE strategy_tasks
			 SET task_status = ?, completed_at = ?, result_status = ?,
			     total_trades = ?, win_rate = ?, total_return = ?,
			     sharpe_ratio = ?, max_drawdown = ?, avg_leverage = ?,
			     artifact_ref = ?, error_kind = '', error_message = ''
			 WHERE task_id = ? AND task_status = ?`,
			TaskStatusCompleted, now, result,
			metrics.TotalTrades, nullFloat(metrics.WinRate), nullFloat(metrics.TotalReturn),
			nullFloat(metrics.SharpeRatio), nullFloat(metrics.MaxDrawdown), nullFloat(metrics.AvgLeverage),
			artifactRef,
			taskID, TaskStatusRunning,
		)
		if execErr != nil {
			return execErr
		}
		updated, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to complete task")
	}
	if updated == 0 {
		return errors.NewIntegrityError("task %s is not running; completion refused", taskID)
	}
	return nil
}

// MarkFailed records a failure with its kind and message and increments
// retry_count. The task stays failed until Requeue explicitly moves it back.
func (s *TaskStore) MarkFailed(ctx context.Context, taskID string, kind errors.Kind, message string) error {
	now := time.Now().UTC()
	var updated int64
	_, err := db.Retry(ctx, s.retry, s.logger, "fail task", func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE strategy_tasks
			 SET task_status = ?, completed_at = ?, retry_count = retry_count + 1,
			     error_kind = ?, error_message = ?
			 WHERE task_id = ? AND task_status IN (?, ?)`,
			TaskStatusFailed, now,
			string(kind), message,
			taskID, TaskStatusRunning, TaskStatusPending,
		)
		if execErr != nil {
			return execErr
		}
		updated, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to mark task failed")
	}
	if updated == 0 {
		return errors.NewIntegrityError("task %s is already terminal; failure refused", taskID)
	}
	return nil
}

// Requeue moves a failed task back to pending for another attempt, provided
// its retry count is still under the ceiling. Returns true when requeued.
func (s *TaskStore) Requeue(ctx context.Context, taskID string, maxRetries int) (bool, error) {
	var updated int64
	_, err := db.Retry(ctx, s.retry, s.logger, "requeue task", func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE strategy_tasks
			 SET task_status = ?, started_at = NULL, completed_at = NULL
			 WHERE task_id = ? AND task_status = ? AND retry_count < ?`,
			TaskStatusPending, taskID, TaskStatusFailed, maxRetries,
		)
		if execErr != nil {
			return execErr
		}
		updated, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to requeue task")
	}
	return updated == 1, nil
}

// Progress summarizes task states for an execution.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Resolved reports whether every task has reached a terminal state.
func (p Progress) Resolved() bool {
	return p.Total > 0 && p.Pending == 0 && p.Running == 0
}

// GetProgress counts tasks per status for an execution. Safe at any time,
// including mid-run: partial results are always queryable.
func (s *TaskStore) GetProgress(ctx context.Context, executionID string) (Progress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_status, COUNT(*) FROM strategy_tasks
		 WHERE execution_id = ? GROUP BY task_status`,
		executionID,
	)
	if err != nil {
		return Progress{}, errors.Wrap(err, "failed to count task progress")
	}
	defer rows.Close()

	var p Progress
	for rows.Next() {
		var status TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Progress{}, errors.Wrap(err, "failed to scan task progress")
		}
		switch status {
		case TaskStatusPending:
			p.Pending = count
		case TaskStatusRunning:
			p.Running = count
		case TaskStatusCompleted:
			p.Completed = count
		case TaskStatusFailed:
			p.Failed = count
		}
		p.Total += count
	}
	if err := rows.Err(); err != nil {
		return Progress{}, errors.Wrap(err, "error iterating task progress")
	}
	return p, nil
}

// ListByExecution returns all tasks of an execution in creation order.
func (s *TaskStore) ListByExecution(ctx context.Context, executionID string) ([]*StrategyTask, error) {
	query := `SELECT ` + taskSelectColumns() + `
		FROM strategy_tasks WHERE execution_id = ?
		ORDER BY created_at, task_id`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*StrategyTask
	for rows.Next() {
		var task StrategyTask
		if err := scanTaskFromRows(rows, &task); err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tasks")
	}
	return tasks, nil
}

// FailPending marks every still-pending task of an execution as failed with
// the given kind. Used by cooperative cancellation: in-flight tasks finish,
// unclaimed tasks are skipped. Returns the skipped task IDs.
func (s *TaskStore) FailPending(ctx context.Context, executionID string, kind errors.Kind, message string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM strategy_tasks WHERE execution_id = ? AND task_status = ?`,
		executionID, TaskStatusPending,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending tasks")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan pending task id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating pending tasks")
	}

	now := time.Now().UTC()
	skipped := make([]string, 0, len(ids))
	for _, id := range ids {
		// Strictly pending to failed. A worker that claims the task between
		// the listing above and this write keeps it; in-flight work is never
		// yanked.
		var updated int64
		_, err := db.Retry(ctx, s.retry, s.logger, "fail pending task", func() error {
			res, execErr := s.db.ExecContext(ctx,
				`UPDATE strategy_tasks
				 SET task_status = ?, completed_at = ?, error_kind = ?, error_message = ?
				 WHERE task_id = ? AND task_status = ?`,
				TaskStatusFailed, now, string(kind), message,
				id, TaskStatusPending,
			)
			if execErr != nil {
				return execErr
			}
			updated, execErr = res.RowsAffected()
			return execErr
		})
		if err != nil {
			return skipped, errors.Wrap(err, "failed to fail pending task")
		}
		if updated == 1 {
			skipped = append(skipped, id)
		}
	}
	return skipped, nil
}

// RecoverStuck re-queues tasks left in running state by a crashed worker.
// Returns the number of tasks recovered.
func (s *TaskStore) RecoverStuck(ctx context.Context, executionID string) (int, error) {
	var recovered int64
	_, err := db.Retry(ctx, s.retry, s.logger, "recover stuck tasks", func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE strategy_tasks
			 SET task_status = ?, started_at = NULL, error_kind = '', error_message = ''
			 WHERE execution_id = ? AND task_status = ?`,
			TaskStatusPending, executionID, TaskStatusRunning,
		)
		if execErr != nil {
			return execErr
		}
		recovered, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover stuck tasks")
	}
	if recovered > 0 {
		s.logger.Warnw("Recovered tasks stuck in running state",
			"execution_id", executionID,
			"count", recovered,
		)
	}
	return int(recovered), nil
}

// DeleteByExecution removes all tasks of an execution. Administrative
// cleanup and orphan remediation only.
func (s *TaskStore) DeleteByExecution(ctx context.Context, executionID string) (int, error) {
	var deleted int64
	_, err := db.Retry(ctx, s.retry, s.logger, "delete tasks", func() error {
		res, execErr := s.db.ExecContext(ctx,
			"DELETE FROM strategy_tasks WHERE execution_id = ?", executionID)
		if execErr != nil {
			return execErr
		}
		deleted, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete tasks")
	}
	return int(deleted), nil
}

// DB exposes the underlying connection for the integrity guard's federated
// read (ATTACH) and for tests.
func (s *TaskStore) DB() *sql.DB {
	return s.db
}

func bindTask(task *StrategyTask) []interface{} {
	return []interface{}{
		task.TaskID,
		task.ExecutionID,
		task.Symbol,
		task.Timeframe,
		task.ConfigName,
		task.Status,
		task.AsOf,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
		task.RetryCount,
		task.ErrorKind,
		task.ErrorMessage,
		task.ResultStatus,
		task.Metrics.TotalTrades,
		nullFloat(task.Metrics.WinRate),
		nullFloat(task.Metrics.TotalReturn),
		nullFloat(task.Metrics.SharpeRatio),
		nullFloat(task.Metrics.MaxDrawdown),
		nullFloat(task.Metrics.AvgLeverage),
		task.ArtifactRef,
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
