// Package orchestrator is the public entry point: it expands a symbol
// addition into (symbol, timeframe, config) backtest tasks, registers them in
// the ledger through the integrity guard, and drives the executor pool to
// completion in the background.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/artifact"
	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/executor"
	"github.com/taku247/long-trader-sub006/integrity"
	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/logger"
	"github.com/taku247/long-trader-sub006/notify"
)

// Config resolution modes for AddSymbol.
const (
	// ModeDefault runs every registered strategy config.
	ModeDefault = "default"
	// ModeSelected runs only the explicitly named configs.
	ModeSelected = "selected"
)

// Orchestrator coordinates run creation, task fan-out and asynchronous
// execution. Safe for concurrent use.
type Orchestrator struct {
	runs      *ledger.RunStore
	tasks     *ledger.TaskStore
	guard     *integrity.Guard
	pool      *executor.Pool
	artifacts *artifact.Store
	notifier  notify.Notifier
	configs   map[string]executor.StrategyConfig

	aggregation string
	logger      *zap.SugaredLogger

	mu     sync.Mutex
	active map[string]*execution
}

type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires an orchestrator. configs and aggregation must match what the
// pool was built with.
func New(
	runs *ledger.RunStore,
	tasks *ledger.TaskStore,
	guard *integrity.Guard,
	pool *executor.Pool,
	artifacts *artifact.Store,
	notifier notify.Notifier,
	configs map[string]executor.StrategyConfig,
	aggregation string,
	log *zap.SugaredLogger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Orchestrator{
		runs:        runs,
		tasks:       tasks,
		guard:       guard,
		pool:        pool,
		artifacts:   artifacts,
		notifier:    notifier,
		configs:     configs,
		aggregation: aggregation,
		logger:      log.Named("orchestrator"),
		active:      make(map[string]*execution),
	}
}

// AddSymbolRequest describes one symbol addition. AsOf is the decision-time
// boundary every task is clamped to; zero means "now". There is deliberately
// no ambient current-time anywhere downstream - the boundary travels on each
// task.
type AddSymbolRequest struct {
	Symbol        string
	Mode          string
	Configs       []string // required for ModeSelected, ignored for ModeDefault
	AsOf          time.Time
	TriggerSource string
}

// AddSymbol registers an ExecutionRun plus its task fan-out and returns as
// soon as both are persisted; processing continues asynchronously. The
// returned execution ID is immediately queryable via GetStatus.
func (o *Orchestrator) AddSymbol(ctx context.Context, req AddSymbolRequest) (string, error) {
	if req.Symbol == "" {
		return "", errors.NewValidationError("symbol is required")
	}
	names, err := o.resolveConfigs(req.Mode, req.Configs)
	if err != nil {
		return "", err
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	trigger := req.TriggerSource
	if trigger == "" {
		trigger = "api"
	}

	run := ledger.NewRun(req.Symbol, trigger)
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return "", err
	}

	batch := make([]*ledger.StrategyTask, 0, len(DefaultTimeframes)*len(names))
	for _, tf := range DefaultTimeframes {
		for _, name := range names {
			task, err := ledger.NewTask(run.ExecutionID, req.Symbol, tf, name, asOf)
			if err != nil {
				return "", err
			}
			batch = append(batch, task)
		}
	}
	if err := o.guard.SafeInsertTasks(ctx, batch); err != nil {
		// The run row without tasks would count as an empty PENDING run
		// forever; remove it so the rejection leaves no trace.
		if delErr := o.runs.DeleteRun(context.WithoutCancel(ctx), run.ExecutionID); delErr != nil {
			o.logger.Errorw("Failed to remove run after task rejection",
				logger.FieldExecutionID, run.ExecutionID,
				logger.FieldError, delErr,
			)
		}
		return "", err
	}

	taskIDs := make([]string, len(batch))
	for i, task := range batch {
		taskIDs[i] = task.TaskID
	}
	if err := o.runs.SetSelectedTaskIDs(ctx, run.ExecutionID, taskIDs); err != nil {
		return "", err
	}

	o.logger.Infow("Execution registered",
		logger.FieldExecutionID, run.ExecutionID,
		logger.FieldSymbol, req.Symbol,
		"mode", req.Mode,
		"configs", names,
		logger.FieldAsOf, asOf,
		logger.FieldTotal, len(batch),
	)

	o.launch(run.ExecutionID)
	return run.ExecutionID, nil
}

func (o *Orchestrator) resolveConfigs(mode string, explicit []string) ([]string, error) {
	switch mode {
	case ModeDefault, "":
		names := make([]string, 0, len(o.configs))
		for name := range o.configs {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return nil, errors.NewValidationError("no strategy configs registered")
		}
		return names, nil
	case ModeSelected:
		if len(explicit) == 0 {
			return nil, errors.NewValidationError("mode %q requires at least one config name", ModeSelected)
		}
		for _, name := range explicit {
			if _, ok := o.configs[name]; !ok {
				return nil, errors.NewValidationError("unknown strategy config %q", name)
			}
		}
		return explicit, nil
	default:
		return nil, errors.NewValidationError("unknown mode %q", mode)
	}
}

// launch starts the executor pool for an execution in the background.
func (o *Orchestrator) launch(executionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.active[executionID] = exec
	o.mu.Unlock()

	go func() {
		defer close(exec.done)
		defer func() {
			o.mu.Lock()
			delete(o.active, executionID)
			o.mu.Unlock()
		}()

		if _, err := o.pool.RunToCompletion(ctx, executionID); err != nil {
			o.logger.Errorw("Execution aborted",
				logger.FieldExecutionID, executionID,
				logger.FieldError, err,
			)
		}
	}()
}

// Status is the answer to a progress query. PerTask is ordered by task
// creation. Partial results are valid at any time, including mid-run.
type Status struct {
	ExecutionID string            `json:"execution_id"`
	Symbol      string            `json:"symbol"`
	Status      ledger.RunStatus  `json:"status"`
	Completed   int               `json:"completed"`
	Failed      int               `json:"failed"`
	Pending     int               `json:"pending"`
	Running     int               `json:"running"`
	Total       int               `json:"total"`
	PerTask     []TaskStatusEntry `json:"per_task"`
}

// TaskStatusEntry is one task's slice of a status query.
type TaskStatusEntry struct {
	TaskID       string              `json:"task_id"`
	Timeframe    string              `json:"timeframe"`
	ConfigName   string              `json:"config_name"`
	Status       ledger.TaskStatus   `json:"status"`
	ResultStatus ledger.ResultStatus `json:"result_status,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	RetryCount   int                 `json:"retry_count"`
}

// GetStatus reports the run's current status and per-task breakdown. The
// run-level status is derived live while tasks are unresolved and read from
// the cached terminal value afterwards.
func (o *Orchestrator) GetStatus(ctx context.Context, executionID string) (*Status, error) {
	run, err := o.runs.GetRun(ctx, executionID)
	if err != nil {
		return nil, err
	}
	progress, err := o.tasks.GetProgress(ctx, executionID)
	if err != nil {
		return nil, err
	}

	status := run.Status
	if !status.Terminal() {
		status = ledger.DeriveRunStatus(progress, o.aggregation)
	}

	all, err := o.tasks.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	perTask := make([]TaskStatusEntry, len(all))
	for i, task := range all {
		perTask[i] = TaskStatusEntry{
			TaskID:       task.TaskID,
			Timeframe:    task.Timeframe,
			ConfigName:   task.ConfigName,
			Status:       task.Status,
			ResultStatus: task.ResultStatus,
			ErrorKind:    task.ErrorKind,
			RetryCount:   task.RetryCount,
		}
	}

	return &Status{
		ExecutionID: executionID,
		Symbol:      run.Symbol,
		Status:      status,
		Completed:   progress.Completed,
		Failed:      progress.Failed,
		Pending:     progress.Pending,
		Running:     progress.Running,
		Total:       progress.Total,
		PerTask:     perTask,
	}, nil
}

// Cancel stops an execution cooperatively: workers stop claiming, tasks
// already in flight run to completion, and every still-pending task is marked
// failed with the cancelled kind and announced as skipped.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	o.mu.Lock()
	exec := o.active[executionID]
	o.mu.Unlock()
	if exec != nil {
		exec.cancel()
	}

	// Fail the unclaimed tail before waiting out the pool. FailPending only
	// ever moves pending tasks, so a worker racing this write either claimed
	// the task first (it runs to completion) or finds nothing left to claim.
	skipped, err := o.tasks.FailPending(ctx, executionID, errors.KindCancelled, "execution cancelled")
	if err != nil {
		return err
	}
	for _, taskID := range skipped {
		o.notifier.TaskSkipped(executionID, taskID, "execution cancelled")
	}

	if exec != nil {
		<-exec.done
	}

	// With the pending tail resolved the run can settle to its terminal
	// status. The pool may already have settled it on its way out; re-derive
	// only when the row is still non-terminal so RunFinished fires once.
	run, err := o.runs.GetRun(ctx, executionID)
	if err != nil {
		return err
	}
	if !run.Status.Terminal() {
		progress, err := o.tasks.GetProgress(ctx, executionID)
		if err != nil {
			return err
		}
		status := ledger.DeriveRunStatus(progress, o.aggregation)
		if status.Terminal() {
			if err := o.runs.SetTerminal(ctx, executionID, status); err != nil {
				return err
			}
			o.notifier.RunFinished(executionID, status, progress)
		}
	}

	o.logger.Infow("Execution cancelled",
		logger.FieldExecutionID, executionID,
		"skipped", len(skipped),
	)
	return nil
}

// Wait blocks until the execution's background processing finishes or ctx is
// done. Returns immediately for executions that are not active.
func (o *Orchestrator) Wait(ctx context.Context, executionID string) error {
	o.mu.Lock()
	exec := o.active[executionID]
	o.mu.Unlock()
	if exec == nil {
		return nil
	}
	select {
	case <-exec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Configs returns the registered strategy config records.
func (o *Orchestrator) Configs() map[string]executor.StrategyConfig {
	out := make(map[string]executor.StrategyConfig, len(o.configs))
	for name, cfg := range o.configs {
		out[name] = cfg
	}
	return out
}
