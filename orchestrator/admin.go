package orchestrator

import (
	"context"
	"time"

	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/logger"
)

// CleanupReport summarizes a retention cleanup pass.
type CleanupReport struct {
	Runs      int
	Tasks     int
	Artifacts int
}

// CleanupOldRuns deletes terminal runs that ended more than retention ago,
// together with their tasks and artifacts. Tasks and artifacts go first so an
// interrupted cleanup never leaves orphaned task rows behind - a dangling run
// with no tasks is harmless, the reverse is what the integrity guard exists
// to catch.
func (o *Orchestrator) CleanupOldRuns(ctx context.Context, retention time.Duration) (CleanupReport, error) {
	if retention <= 0 {
		return CleanupReport{}, errors.NewValidationError("retention must be positive")
	}
	cutoff := time.Now().UTC().Add(-retention)

	expired, err := o.runs.ListTerminalEndedBefore(ctx, cutoff)
	if err != nil {
		return CleanupReport{}, err
	}

	var report CleanupReport
	for _, run := range expired {
		tasks, err := o.tasks.ListByExecution(ctx, run.ExecutionID)
		if err != nil {
			return report, err
		}
		for _, task := range tasks {
			if task.ArtifactRef == "" {
				continue
			}
			if err := o.artifacts.Delete(task.ArtifactRef); err != nil {
				return report, err
			}
			report.Artifacts++
		}

		deleted, err := o.tasks.DeleteByExecution(ctx, run.ExecutionID)
		if err != nil {
			return report, err
		}
		report.Tasks += deleted

		if err := o.runs.DeleteRun(ctx, run.ExecutionID); err != nil {
			return report, err
		}
		report.Runs++

		o.logger.Infow("Expired run cleaned up",
			logger.FieldExecutionID, run.ExecutionID,
			logger.FieldSymbol, run.Symbol,
			"ended_at", run.EndedAt,
			"tasks_deleted", deleted,
		)
	}
	return report, nil
}
