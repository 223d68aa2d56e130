package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taku247/long-trader-sub006/artifact"
	"github.com/taku247/long-trader-sub006/config"
	"github.com/taku247/long-trader-sub006/db"
	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/executor"
	"github.com/taku247/long-trader-sub006/integrity"
	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/orchestrator"
	"github.com/taku247/long-trader-sub006/series"
	ltest "github.com/taku247/long-trader-sub006/internal/testing"
)

type harness struct {
	orch      *orchestrator.Orchestrator
	runs      *ledger.RunStore
	tasks     *ledger.TaskStore
	artifacts *artifact.Store
}

type staticData struct {
	s series.Series
}

func (d staticData) Series(ctx context.Context, symbol, timeframe string) (series.Series, error) {
	return d.s, nil
}

type funcEvaluator func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error)

func (f funcEvaluator) Evaluate(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
	return f(ctx, s, cfg)
}

func hourlySeries(end time.Time, count int) series.Series {
	s := make(series.Series, count)
	start := end.Add(-time.Duration(count-1) * time.Hour)
	price := 100.0
	for i := range s {
		s[i] = series.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price * 1.01, Low: price * 0.99, Close: price * 1.002,
			Volume: 1000,
		}
		price *= 1.002
	}
	return s
}

func newHarness(t *testing.T, eval executor.Evaluator) *harness {
	t.Helper()

	dbs := ltest.CreateLedgerDBs(t)
	runs := ledger.NewRunStore(dbs.RunDB, db.DefaultRetryPolicy(), nil)
	tasks := ledger.NewTaskStore(dbs.TaskDB, db.DefaultRetryPolicy(), nil)
	guard := integrity.NewGuard(runs, tasks, dbs.RunsPath, nil)
	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	configs := orchestrator.DefaultConfigs()
	execCfg := config.ExecutorConfig{Workers: 4, PollIntervalMs: 10, MaxRetries: 2, TaskTimeoutSeconds: 30}
	pool := executor.NewPool(tasks, runs, staticData{hourlySeries(asOf, 200)}, eval, store,
		nil, configs, execCfg, config.AggregationLenient, nil)

	return &harness{
		orch:      orchestrator.New(runs, tasks, guard, pool, store, nil, configs, config.AggregationLenient, nil),
		runs:      runs,
		tasks:     tasks,
		artifacts: store,
	}
}

func noSignalEvaluator() executor.Evaluator {
	return funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		return &executor.Evaluation{}, nil
	})
}

func TestAddSymbolRunsToSuccess(t *testing.T) {
	h := newHarness(t, noSignalEvaluator())
	ctx := context.Background()

	execID, err := h.orch.AddSymbol(ctx, orchestrator.AddSymbolRequest{
		Symbol: "BTC",
		Mode:   orchestrator.ModeDefault,
		AsOf:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotEmpty(t, execID)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(waitCtx, execID))

	// 3 configs x 6 timeframes.
	status, err := h.orch.GetStatus(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, status.Status)
	assert.Equal(t, 18, status.Total)
	assert.Equal(t, 18, status.Completed)
	assert.Zero(t, status.Failed)
	assert.Len(t, status.PerTask, 18)
	for _, entry := range status.PerTask {
		assert.Equal(t, ledger.TaskStatusCompleted, entry.Status)
	}

	run, err := h.runs.GetRun(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, run.Status)
	assert.Len(t, run.SelectedTaskIDs, 18)
	require.NotNil(t, run.EndedAt)
}

func TestAddSymbolSelectedConfigs(t *testing.T) {
	h := newHarness(t, noSignalEvaluator())
	ctx := context.Background()

	execID, err := h.orch.AddSymbol(ctx, orchestrator.AddSymbolRequest{
		Symbol:  "ETH",
		Mode:    orchestrator.ModeSelected,
		Configs: []string{"balanced"},
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(waitCtx, execID))

	status, err := h.orch.GetStatus(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, 6, status.Total, "one task per timeframe for a single config")
	for _, entry := range status.PerTask {
		assert.Equal(t, "balanced", entry.ConfigName)
	}
}

func TestAddSymbolRejectsUnknownConfigWithoutResidue(t *testing.T) {
	h := newHarness(t, noSignalEvaluator())
	ctx := context.Background()

	_, err := h.orch.AddSymbol(ctx, orchestrator.AddSymbolRequest{
		Symbol:  "BTC",
		Mode:    orchestrator.ModeSelected,
		Configs: []string{"moonshot_v2"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	runs, err := h.runs.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "a rejected request must not leave a run behind")
}

func TestAddSymbolRejectsUnknownMode(t *testing.T) {
	h := newHarness(t, noSignalEvaluator())

	_, err := h.orch.AddSymbol(context.Background(), orchestrator.AddSymbolRequest{
		Symbol: "BTC",
		Mode:   "yolo",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestCancelSkipsPendingTasks(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 64)
	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		started <- struct{}{}
		<-release
		return &executor.Evaluation{}, nil
	})

	h := newHarness(t, eval)
	ctx := context.Background()

	execID, err := h.orch.AddSymbol(ctx, orchestrator.AddSymbolRequest{Symbol: "BTC"})
	require.NoError(t, err)

	// Wait until workers hold tasks in flight, then cancel while the rest of
	// the fan-out is still pending.
	for i := 0; i < 4; i++ {
		select {
		case <-started:
		case <-time.After(10 * time.Second):
			t.Fatal("workers never started")
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.orch.Cancel(ctx, execID) }()

	// Hold the in-flight evaluators until the unclaimed tail has been marked,
	// so no worker can loop around and drain tasks cancellation should skip.
	require.Eventually(t, func() bool {
		status, err := h.orch.GetStatus(ctx, execID)
		return err == nil && status.Failed > 0 && status.Pending == 0
	}, 10*time.Second, 5*time.Millisecond, "pending tail never marked cancelled")

	// Cancel waits for in-flight tasks; let them finish.
	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("cancel did not return")
	}

	status, err := h.orch.GetStatus(ctx, execID)
	require.NoError(t, err)
	assert.True(t, status.Status.Terminal(), "cancelled run must settle")
	assert.Equal(t, 18, status.Total)
	assert.Greater(t, status.Completed, 0, "in-flight tasks finish")
	assert.Greater(t, status.Failed, 0, "pending tasks are skipped")

	cancelledSeen := false
	for _, entry := range status.PerTask {
		require.True(t, entry.Status.Terminal())
		if entry.ErrorKind == string(errors.KindCancelled) {
			cancelledSeen = true
		}
	}
	assert.True(t, cancelledSeen)
}

func TestCleanupOldRunsRemovesExpiredExecutions(t *testing.T) {
	// tradesEvaluator produces an artifact per task so the cleanup has
	// something to reap besides rows.
	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		first, last := s[0], s[len(s)-1]
		ret := (last.Close - first.Close) / first.Close
		one := 1.0
		return &executor.Evaluation{
			Trades: []artifact.Trade{{
				EntryTime: first.Timestamp, ExitTime: last.Timestamp,
				EntryPrice: first.Close, ExitPrice: last.Close,
				Leverage: 2, Side: "long", PnLPct: ret * 2,
			}},
			Metrics: ledger.Metrics{TotalTrades: 1, WinRate: &one},
		}, nil
	})
	h := newHarness(t, eval)
	ctx := context.Background()

	execID, err := h.orch.AddSymbol(ctx, orchestrator.AddSymbolRequest{
		Symbol: "BTC",
		Mode:   orchestrator.ModeSelected,
		Configs: []string{"balanced"},
	})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(waitCtx, execID))

	// Nothing younger than the retention window is touched.
	report, err := h.orch.CleanupOldRuns(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.Runs)

	// A nanosecond retention expires the just-finished run.
	time.Sleep(5 * time.Millisecond)
	report, err = h.orch.CleanupOldRuns(ctx, time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Runs)
	assert.Equal(t, 6, report.Tasks)
	assert.Equal(t, 6, report.Artifacts)

	_, err = h.runs.GetRun(ctx, execID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	progress, err := h.tasks.GetProgress(ctx, execID)
	require.NoError(t, err)
	assert.Zero(t, progress.Total)
}

func TestGetStatusUnknownExecution(t *testing.T) {
	h := newHarness(t, noSignalEvaluator())

	_, err := h.orch.GetStatus(context.Background(), "exec_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
