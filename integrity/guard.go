// Package integrity enforces referential integrity between the execution
// ledger and the strategy task store. The two stores are physically separate
// SQLite files and cannot share a native transaction or foreign key, so the
// guard is the application-layer equivalent: validate-before-write on the
// hot path, plus a periodic reconciliation sweep for anything that slips
// through (crashes between writes, administrative run deletion).
package integrity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/config"
	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/ledger"
)

// SentinelExecutionID is the quarantine run orphans are reassigned to under
// the sentinel remediation policy. Created on demand; never processed.
const SentinelExecutionID = "exec_orphan_quarantine"

// Orphan is a task whose execution reference no longer resolves.
type Orphan struct {
	TaskID      string
	ExecutionID string
}

// Guard validates cross-store references at write time and detects and
// remediates orphans.
type Guard struct {
	runs     *ledger.RunStore
	tasks    *ledger.TaskStore
	runsPath string // file path of the runs store, for the federated read
	logger   *zap.SugaredLogger
}

// NewGuard creates a guard over the two ledger stores. runsPath must be the
// filesystem path of the runs store so FindOrphans can attach it.
func NewGuard(runs *ledger.RunStore, tasks *ledger.TaskStore, runsPath string, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{runs: runs, tasks: tasks, runsPath: runsPath, logger: logger.Named("integrity")}
}

// ValidateExecution checks that an ExecutionRun exists before any task write
// against it is allowed. A missing run is a validation error and the write
// must be rejected - this is the cross-store stand-in for a foreign key.
func (g *Guard) ValidateExecution(ctx context.Context, executionID string) error {
	if executionID == "" {
		return errors.NewValidationError("execution_id is empty")
	}
	exists, err := g.runs.Exists(ctx, executionID)
	if err != nil {
		return errors.Wrap(err, "validate execution reference")
	}
	if !exists {
		return errors.NewValidationError("execution %s does not exist; task write rejected", executionID)
	}
	return nil
}

// SafeInsertTasks wraps validate+insert so no task is ever persisted against
// a non-existent run. Every distinct execution reference in the batch is
// validated before a single row is written.
func (g *Guard) SafeInsertTasks(ctx context.Context, tasks []*ledger.StrategyTask) error {
	seen := make(map[string]struct{}, 1)
	for _, task := range tasks {
		if _, ok := seen[task.ExecutionID]; ok {
			continue
		}
		if err := g.ValidateExecution(ctx, task.ExecutionID); err != nil {
			return err
		}
		seen[task.ExecutionID] = struct{}{}
	}
	return g.tasks.InsertTasks(ctx, tasks)
}

// FindOrphans returns tasks whose execution_id has no matching ExecutionRun.
// The two stores are joined at read time by attaching the runs store to the
// task connection - the only place the system federates them.
func (g *Guard) FindOrphans(ctx context.Context) ([]Orphan, error) {
	conn, err := g.tasks.DB().Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire task store connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS runs", g.runsPath); err != nil {
		return nil, errors.Wrap(err, "attach runs store")
	}
	// Detach on the same connection before it returns to the pool.
	defer conn.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE runs")

	rows, err := conn.QueryContext(ctx, `
		SELECT t.task_id, t.execution_id
		FROM strategy_tasks t
		LEFT JOIN runs.execution_runs r ON t.execution_id = r.execution_id
		WHERE r.execution_id IS NULL
		ORDER BY t.created_at, t.task_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query orphaned tasks")
	}
	defer rows.Close()

	var orphans []Orphan
	for rows.Next() {
		var o Orphan
		if err := rows.Scan(&o.TaskID, &o.ExecutionID); err != nil {
			return nil, errors.Wrap(err, "scan orphaned task")
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orphaned tasks")
	}
	return orphans, nil
}

// Remediate resolves orphans under an explicit policy. Remediation is never
// silent: every remediated task is logged with its policy and prior
// execution reference.
//
//	delete:   hard-delete the orphaned rows (and nothing else).
//	sentinel: reassign orphans to the quarantine run, creating it on demand;
//	          identity collisions inside the quarantine are deleted instead.
//
// Returns the number of tasks remediated.
func (g *Guard) Remediate(ctx context.Context, orphans []Orphan, policy string) (int, error) {
	if len(orphans) == 0 {
		return 0, nil
	}

	switch policy {
	case config.RemediationDelete:
		return g.remediateDelete(ctx, orphans)
	case config.RemediationSentinel:
		return g.remediateSentinel(ctx, orphans)
	default:
		return 0, errors.NewValidationError("unknown remediation policy %q", policy)
	}
}

func (g *Guard) remediateDelete(ctx context.Context, orphans []Orphan) (int, error) {
	remediated := 0
	for _, o := range orphans {
		deleted, err := g.deleteTask(ctx, o.TaskID)
		if err != nil {
			return remediated, err
		}
		if deleted {
			remediated++
			g.logger.Warnw("Orphaned task deleted",
				"task_id", o.TaskID,
				"execution_id", o.ExecutionID,
				"policy", config.RemediationDelete,
			)
		}
	}
	return remediated, nil
}

func (g *Guard) remediateSentinel(ctx context.Context, orphans []Orphan) (int, error) {
	if err := g.ensureSentinelRun(ctx); err != nil {
		return 0, err
	}

	remediated := 0
	for _, o := range orphans {
		moved, err := g.reassignTask(ctx, o.TaskID)
		if err != nil {
			return remediated, err
		}
		if !moved {
			// Identity collision inside the quarantine: an orphan with this
			// (symbol, timeframe, config) is already parked there.
			deleted, err := g.deleteTask(ctx, o.TaskID)
			if err != nil {
				return remediated, err
			}
			if deleted {
				remediated++
				g.logger.Warnw("Orphaned task deleted (quarantine identity collision)",
					"task_id", o.TaskID,
					"execution_id", o.ExecutionID,
					"policy", config.RemediationSentinel,
				)
			}
			continue
		}
		remediated++
		g.logger.Warnw("Orphaned task reassigned to quarantine run",
			"task_id", o.TaskID,
			"execution_id", o.ExecutionID,
			"policy", config.RemediationSentinel,
		)
	}
	return remediated, nil
}

func (g *Guard) ensureSentinelRun(ctx context.Context) error {
	exists, err := g.runs.Exists(ctx, SentinelExecutionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	run := &ledger.ExecutionRun{
		ExecutionID:   SentinelExecutionID,
		Symbol:        "*",
		TriggerSource: "integrity-guard",
		Status:        ledger.RunStatusPartial,
		CreatedAt:     time.Now().UTC(),
	}
	return g.runs.CreateRun(ctx, run)
}

func (g *Guard) deleteTask(ctx context.Context, taskID string) (bool, error) {
	res, err := g.tasks.DB().ExecContext(ctx,
		"DELETE FROM strategy_tasks WHERE task_id = ?", taskID)
	if err != nil {
		return false, errors.Wrapf(err, "delete orphaned task %s", taskID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (g *Guard) reassignTask(ctx context.Context, taskID string) (bool, error) {
	res, err := g.tasks.DB().ExecContext(ctx,
		"UPDATE OR IGNORE strategy_tasks SET execution_id = ? WHERE task_id = ?",
		SentinelExecutionID, taskID)
	if err != nil {
		return false, errors.Wrapf(err, "reassign orphaned task %s", taskID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// VerifyEnforcement proves the tightened execution reference actually holds:
// a task write against an existing run succeeds (positive case) and a write
// against a missing run is rejected (negative case). Run after the schema
// migration that makes execution_id non-nullable - a migration is not
// complete until both directions are verified.
func (g *Guard) VerifyEnforcement(ctx context.Context) error {
	// Positive: insert against a real run, then clean up.
	probe := ledger.NewRun("__probe__", "integrity-verify")
	if err := g.runs.CreateRun(ctx, probe); err != nil {
		return errors.Wrap(err, "verify: create probe run")
	}
	defer g.runs.DeleteRun(ctx, probe.ExecutionID)

	task, err := ledger.NewTask(probe.ExecutionID, "__probe__", "1h", "verify", time.Now().UTC())
	if err != nil {
		return err
	}
	if err := g.SafeInsertTasks(ctx, []*ledger.StrategyTask{task}); err != nil {
		return errors.Wrap(err, "verify: valid reference was rejected")
	}
	if _, err := g.deleteTask(ctx, task.TaskID); err != nil {
		return err
	}

	// Negative: a missing run must be rejected with a validation error.
	bad, err := ledger.NewTask("exec_verify_missing", "__probe__", "1h", "verify", time.Now().UTC())
	if err != nil {
		return err
	}
	err = g.SafeInsertTasks(ctx, []*ledger.StrategyTask{bad})
	if err == nil {
		return errors.NewIntegrityError("verify: invalid execution reference was accepted")
	}
	if !errors.Is(err, errors.ErrValidation) {
		return errors.Wrap(err, "verify: unexpected error for invalid reference")
	}

	g.logger.Infow("Execution reference enforcement verified")
	return nil
}
