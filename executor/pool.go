package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/artifact"
	"github.com/taku247/long-trader-sub006/config"
	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/logger"
	"github.com/taku247/long-trader-sub006/notify"
	"github.com/taku247/long-trader-sub006/series"
)

// Pool executes an execution's tasks on W workers. Each worker loops
// claim-evaluate-record until no claimable work remains. The claim is the
// only synchronization point: a task is processed by exactly one worker.
type Pool struct {
	tasks     *ledger.TaskStore
	runs      *ledger.RunStore
	data      MarketData
	eval      Evaluator
	artifacts *artifact.Store
	notifier  notify.Notifier
	configs   map[string]StrategyConfig

	cfg         config.ExecutorConfig
	aggregation string
	logger      *zap.SugaredLogger
}

// NewPool wires a pool over its collaborators. configs maps strategy config
// names to their immutable parameter records; a task referencing an
// unregistered name fails with a validation error and is not retried.
func NewPool(
	tasks *ledger.TaskStore,
	runs *ledger.RunStore,
	data MarketData,
	eval Evaluator,
	artifacts *artifact.Store,
	notifier notify.Notifier,
	configs map[string]StrategyConfig,
	cfg config.ExecutorConfig,
	aggregation string,
	log *zap.SugaredLogger,
) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Pool{
		tasks:       tasks,
		runs:        runs,
		data:        data,
		eval:        eval,
		artifacts:   artifacts,
		notifier:    notifier,
		configs:     configs,
		cfg:         cfg,
		aggregation: aggregation,
		logger:      log.Named("executor"),
	}
}

// RunToCompletion drives the execution until every task is terminal, then
// derives and caches the run's final status. Cancelling ctx stops workers
// from claiming new tasks; tasks already in flight run to their own
// completion. On cancellation any task still unresolved on exit is left for
// the orchestrator to settle.
func (p *Pool) RunToCompletion(ctx context.Context, executionID string) (ledger.RunStatus, error) {
	if err := p.runs.SetRunning(ctx, executionID); err != nil {
		return "", err
	}

	// Tasks left running by a crashed worker are reclaimed before the pool
	// starts so they get a fresh claim instead of hanging forever.
	recovered, err := p.tasks.RecoverStuck(ctx, executionID)
	if err != nil {
		return "", err
	}
	if recovered > 0 {
		p.logger.Warnw("Recovered stuck tasks",
			logger.FieldExecutionID, executionID,
			logger.FieldCount, recovered,
		)
	}

	workers := p.cfg.WorkerCount()
	p.logger.Infow("Executor pool starting",
		logger.FieldExecutionID, executionID,
		"workers", workers,
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.workerLoop(ctx, workerID, executionID)
		}(fmt.Sprintf("worker-%d", i))
	}
	wg.Wait()

	return p.finalize(ctx, executionID)
}

func (p *Pool) workerLoop(ctx context.Context, workerID, executionID string) {
	poll := time.Duration(p.cfg.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.tasks.ClaimNext(ctx, executionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Errorw("Claim failed",
				logger.FieldWorkerID, workerID,
				logger.FieldExecutionID, executionID,
				logger.FieldError, err,
			)
			if !sleepCtx(ctx, poll) {
				return
			}
			continue
		}
		if task == nil {
			// Nothing claimable. Another worker may still fail and requeue,
			// so only exit once every task is terminal.
			progress, err := p.tasks.GetProgress(ctx, executionID)
			if err != nil {
				p.logger.Errorw("Progress check failed",
					logger.FieldWorkerID, workerID,
					logger.FieldError, err,
				)
			} else if progress.Resolved() {
				return
			}
			if !sleepCtx(ctx, poll) {
				return
			}
			continue
		}

		p.process(ctx, workerID, task)
	}
}

// process runs one claimed task through evaluate-validate-persist and records
// the outcome. The task-level context is detached from the pool context:
// cancelling the run must not abort work already claimed.
func (p *Pool) process(ctx context.Context, workerID string, task *ledger.StrategyTask) {
	start := time.Now()
	p.notifier.TaskStarted(task)

	taskCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if p.cfg.TaskTimeoutSeconds > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, time.Duration(p.cfg.TaskTimeoutSeconds)*time.Second)
	}
	defer cancel()

	result, err := p.evaluateTask(taskCtx, task)
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			err = errors.Mark(err, errors.ErrTaskTimeout)
		}
		p.recordFailure(task, workerID, err)
		return
	}

	// The completion write gets its own context: an evaluation that finished
	// right at the deadline must still be recorded as completed.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer writeCancel()
	if err := p.tasks.MarkCompleted(writeCtx, task.TaskID, result.status, result.metrics, result.artifactRef); err != nil {
		p.recordFailure(task, workerID, err)
		return
	}

	task.Status = ledger.TaskStatusCompleted
	task.ResultStatus = result.status
	task.Metrics = result.metrics
	task.ArtifactRef = result.artifactRef
	p.notifier.TaskCompleted(task)

	p.logger.Infow("Task completed",
		logger.FieldWorkerID, workerID,
		logger.FieldTaskID, task.TaskID,
		logger.FieldSymbol, task.Symbol,
		logger.FieldTimeframe, task.Timeframe,
		logger.FieldConfigName, task.ConfigName,
		logger.FieldStatus, string(result.status),
		logger.FieldArtifact, result.artifactRef,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
}

type taskResult struct {
	status      ledger.ResultStatus
	metrics     ledger.Metrics
	artifactRef string
}

func (p *Pool) evaluateTask(ctx context.Context, task *ledger.StrategyTask) (taskResult, error) {
	cfg, ok := p.configs[task.ConfigName]
	if !ok {
		return taskResult{}, errors.NewValidationError("unknown strategy config %q", task.ConfigName)
	}

	full, err := p.data.Series(ctx, task.Symbol, task.Timeframe)
	if err != nil {
		return taskResult{}, errors.Mark(errors.Wrap(err, "fetch market data"), errors.ErrComputation)
	}
	if !full.Sorted() {
		return taskResult{}, errors.NewIntegrityError("market data for %s/%s is not time-ordered", task.Symbol, task.Timeframe)
	}

	// The clamp is the evaluator's entire view of the world. Nothing after
	// the task's decision time exists as far as the strategy is concerned.
	clamped := series.Clamp(full, task.AsOf)
	if len(clamped) == 0 {
		return taskResult{}, errors.NewValidationError("no market data at or before %s for %s/%s",
			task.AsOf.Format(time.RFC3339), task.Symbol, task.Timeframe)
	}

	eval, err := p.eval.Evaluate(ctx, clamped, cfg)
	if err != nil {
		return taskResult{}, errors.Mark(errors.Wrap(err, "evaluate strategy"), errors.ErrComputation)
	}

	if len(eval.Trades) == 0 {
		// A strategy with nothing to trade completed successfully.
		return taskResult{status: ledger.ResultNoSignal, metrics: ledger.NeutralMetrics()}, nil
	}

	if err := artifact.ValidateWindow(eval.Trades, task.AsOf); err != nil {
		return taskResult{}, err
	}
	if err := artifact.ValidateContent(eval.Trades); err != nil {
		return taskResult{}, err
	}

	ref, err := p.artifacts.Save(artifact.Identity{
		Symbol:      task.Symbol,
		Timeframe:   task.Timeframe,
		ConfigName:  task.ConfigName,
		ExecutionID: task.ExecutionID,
	}, eval.Trades)
	if err != nil {
		return taskResult{}, errors.Wrap(err, "save trade artifact")
	}

	return taskResult{status: ledger.ResultTrades, metrics: eval.Metrics, artifactRef: ref}, nil
}

func (p *Pool) recordFailure(task *ledger.StrategyTask, workerID string, err error) {
	kind := errors.KindOf(err)

	// The record write uses a background context so a cancelled or timed-out
	// task context cannot leave the row stuck in running.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if markErr := p.tasks.MarkFailed(ctx, task.TaskID, kind, err.Error()); markErr != nil {
		p.logger.Errorw("Failed to record task failure",
			logger.FieldTaskID, task.TaskID,
			logger.FieldError, markErr,
		)
	}

	requeued := false
	if kind.Retryable() {
		var requeueErr error
		requeued, requeueErr = p.tasks.Requeue(ctx, task.TaskID, p.cfg.MaxRetries)
		if requeueErr != nil {
			p.logger.Errorw("Requeue failed",
				logger.FieldTaskID, task.TaskID,
				logger.FieldError, requeueErr,
			)
		}
	}

	task.Status = ledger.TaskStatusFailed
	task.RetryCount++
	p.notifier.TaskFailed(task, string(kind), err.Error())

	p.logger.Warnw("Task failed",
		logger.FieldWorkerID, workerID,
		logger.FieldTaskID, task.TaskID,
		logger.FieldSymbol, task.Symbol,
		logger.FieldTimeframe, task.Timeframe,
		logger.FieldConfigName, task.ConfigName,
		logger.FieldErrorKind, string(kind),
		logger.FieldRetry, task.RetryCount,
		"requeued", requeued,
		logger.FieldError, err,
	)
}

// finalize derives the run's status from task outcomes and, when every task
// is terminal, caches it on the run row and emits the final notification.
func (p *Pool) finalize(ctx context.Context, executionID string) (ledger.RunStatus, error) {
	// Settle even when the pool context was cancelled.
	ctx = context.WithoutCancel(ctx)

	progress, err := p.tasks.GetProgress(ctx, executionID)
	if err != nil {
		return "", err
	}

	status := ledger.DeriveRunStatus(progress, p.aggregation)
	if !status.Terminal() {
		p.logger.Infow("Executor pool stopped with unresolved tasks",
			logger.FieldExecutionID, executionID,
			logger.FieldStatus, string(status),
			logger.FieldCompleted, progress.Completed,
			logger.FieldFailed, progress.Failed,
			logger.FieldTotal, progress.Total,
		)
		return status, nil
	}

	if err := p.runs.SetTerminal(ctx, executionID, status); err != nil {
		return "", err
	}
	p.notifier.RunFinished(executionID, status, progress)

	p.logger.Infow("Execution finished",
		logger.FieldExecutionID, executionID,
		logger.FieldStatus, string(status),
		logger.FieldCompleted, progress.Completed,
		logger.FieldFailed, progress.Failed,
		logger.FieldTotal, progress.Total,
	)
	return status, nil
}

// sleepCtx waits d or until ctx is done; reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
