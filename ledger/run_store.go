package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/db"
	"github.com/taku247/long-trader-sub006/errors"
)

// RunStore handles persistence of ExecutionRuns.
type RunStore struct {
	db     *sql.DB
	retry  db.RetryPolicy
	logger *zap.SugaredLogger
}

// NewRunStore creates a run store. logger may be nil.
func NewRunStore(conn *sql.DB, retry db.RetryPolicy, logger *zap.SugaredLogger) *RunStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RunStore{db: conn, retry: retry, logger: logger.Named("runstore")}
}

// CreateRun inserts a new ExecutionRun.
func (s *RunStore) CreateRun(ctx context.Context, run *ExecutionRun) error {
	taskIDs, err := json.Marshal(run.SelectedTaskIDs)
	if err != nil {
		return errors.Wrap(err, "marshal selected task ids")
	}

	query := `
		INSERT INTO execution_runs (
			execution_id, symbol, trigger_source, status,
			created_at, started_at, ended_at, selected_task_ids
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.Retry(ctx, s.retry, s.logger, "create run", func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			run.ExecutionID,
			run.Symbol,
			run.TriggerSource,
			run.Status,
			run.CreatedAt,
			run.StartedAt,
			run.EndedAt,
			string(taskIDs),
		)
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to create execution run")
	}
	return nil
}

// GetRun retrieves a run by execution ID.
func (s *RunStore) GetRun(ctx context.Context, executionID string) (*ExecutionRun, error) {
	query := `
		SELECT execution_id, symbol, trigger_source, status,
		       created_at, started_at, ended_at, selected_task_ids
		FROM execution_runs WHERE execution_id = ?
	`

	var run ExecutionRun
	var startedAt, endedAt sql.NullTime
	var taskIDs string

	err := s.db.QueryRowContext(ctx, query, executionID).Scan(
		&run.ExecutionID,
		&run.Symbol,
		&run.TriggerSource,
		&run.Status,
		&run.CreatedAt,
		&startedAt,
		&endedAt,
		&taskIDs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "execution run %s", executionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution run")
	}

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	if err := json.Unmarshal([]byte(taskIDs), &run.SelectedTaskIDs); err != nil {
		return nil, errors.Wrapf(err, "unmarshal selected task ids for %s", executionID)
	}
	return &run, nil
}

// Exists reports whether an ExecutionRun exists. The integrity guard's
// validate-before-write check rides on this.
func (s *RunStore) Exists(ctx context.Context, executionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM execution_runs WHERE execution_id = ?)",
		executionID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check execution run existence")
	}
	return exists, nil
}

// SetRunning marks a pending run as running. Idempotent: a run already
// running stays running with its original started_at.
func (s *RunStore) SetRunning(ctx context.Context, executionID string) error {
	now := time.Now().UTC()
	_, err := db.Retry(ctx, s.retry, s.logger, "set run running", func() error {
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE execution_runs SET status = ?, started_at = ?
			 WHERE execution_id = ? AND status = ?`,
			RunStatusRunning, now, executionID, RunStatusPending,
		)
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to mark run running")
	}
	return nil
}

// SetTerminal caches the derived terminal status once all tasks resolved.
func (s *RunStore) SetTerminal(ctx context.Context, executionID string, status RunStatus) error {
	if !status.Terminal() {
		return errors.NewValidationError("%s is not a terminal run status", status)
	}
	now := time.Now().UTC()
	_, err := db.Retry(ctx, s.retry, s.logger, "set run terminal", func() error {
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE execution_runs SET status = ?, ended_at = ? WHERE execution_id = ?`,
			status, now, executionID,
		)
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to mark run terminal")
	}
	return nil
}

// SetSelectedTaskIDs records the task IDs registered for this run.
func (s *RunStore) SetSelectedTaskIDs(ctx context.Context, executionID string, taskIDs []string) error {
	encoded, err := json.Marshal(taskIDs)
	if err != nil {
		return errors.Wrap(err, "marshal selected task ids")
	}
	_, err = db.Retry(ctx, s.retry, s.logger, "set selected tasks", func() error {
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE execution_runs SET selected_task_ids = ? WHERE execution_id = ?`,
			string(encoded), executionID,
		)
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to set selected task ids")
	}
	return nil
}

// ListRuns returns runs ordered newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*ExecutionRun, error) {
	query := `
		SELECT execution_id, symbol, trigger_source, status,
		       created_at, started_at, ended_at, selected_task_ids
		FROM execution_runs ORDER BY created_at DESC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list execution runs")
	}
	defer rows.Close()

	var runs []*ExecutionRun
	for rows.Next() {
		var run ExecutionRun
		var startedAt, endedAt sql.NullTime
		var taskIDs string
		if err := rows.Scan(
			&run.ExecutionID, &run.Symbol, &run.TriggerSource, &run.Status,
			&run.CreatedAt, &startedAt, &endedAt, &taskIDs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution run")
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			run.EndedAt = &endedAt.Time
		}
		if err := json.Unmarshal([]byte(taskIDs), &run.SelectedTaskIDs); err != nil {
			return nil, errors.Wrapf(err, "unmarshal selected task ids for %s", run.ExecutionID)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating execution runs")
	}
	return runs, nil
}

// ListTerminalEndedBefore returns terminal runs whose ended_at is before
// cutoff, oldest first. Retention cleanup only.
func (s *RunStore) ListTerminalEndedBefore(ctx context.Context, cutoff time.Time) ([]*ExecutionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, symbol, trigger_source, status,
		       created_at, started_at, ended_at, selected_task_ids
		FROM execution_runs
		WHERE status IN (?, ?, ?) AND ended_at IS NOT NULL AND ended_at < ?
		ORDER BY ended_at`,
		RunStatusSuccess, RunStatusFailed, RunStatusPartial, cutoff.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expired runs")
	}
	defer rows.Close()

	var runs []*ExecutionRun
	for rows.Next() {
		var run ExecutionRun
		var startedAt, endedAt sql.NullTime
		var taskIDs string
		if err := rows.Scan(
			&run.ExecutionID, &run.Symbol, &run.TriggerSource, &run.Status,
			&run.CreatedAt, &startedAt, &endedAt, &taskIDs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution run")
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if endedAt.Valid {
			run.EndedAt = &endedAt.Time
		}
		if err := json.Unmarshal([]byte(taskIDs), &run.SelectedTaskIDs); err != nil {
			return nil, errors.Wrapf(err, "unmarshal selected task ids for %s", run.ExecutionID)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating expired runs")
	}
	return runs, nil
}

// DeleteRun removes a run. Administrative cleanup only - normal processing
// never deletes runs, which is exactly why orphaned tasks need the guard.
func (s *RunStore) DeleteRun(ctx context.Context, executionID string) error {
	_, err := db.Retry(ctx, s.retry, s.logger, "delete run", func() error {
		_, execErr := s.db.ExecContext(ctx,
			"DELETE FROM execution_runs WHERE execution_id = ?", executionID)
		return execErr
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete execution run")
	}
	s.logger.Warnw("Execution run deleted",
		"execution_id", executionID,
	)
	return nil
}

// DB exposes the underlying connection for the integrity guard's federated
// read (ATTACH) and for tests.
func (s *RunStore) DB() *sql.DB {
	return s.db
}
