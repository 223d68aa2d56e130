package executor_test

import (
	"context"
	"sync"
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
	"github.com/taku247/long-trader-sub006/series"
	ltest "github.com/taku247/long-trader-sub006/internal/testing"
)

var testTimeframes = []string{"5m", "15m", "1h", "4h", "1d", "1w"}

type fixture struct {
	runs      *ledger.RunStore
	tasks     *ledger.TaskStore
	guard     *integrity.Guard
	artifacts *artifact.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbs := ltest.CreateLedgerDBs(t)
	runs := ledger.NewRunStore(dbs.RunDB, db.DefaultRetryPolicy(), nil)
	tasks := ledger.NewTaskStore(dbs.TaskDB, db.DefaultRetryPolicy(), nil)
	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return &fixture{
		runs:      runs,
		tasks:     tasks,
		guard:     integrity.NewGuard(runs, tasks, dbs.RunsPath, nil),
		artifacts: store,
	}
}

// seedExecution creates a run with one task per (timeframe, config) pair.
func (f *fixture) seedExecution(t *testing.T, symbol string, asOf time.Time, configNames []string) *ledger.ExecutionRun {
	t.Helper()
	ctx := context.Background()

	run := ledger.NewRun(symbol, "test")
	require.NoError(t, f.runs.CreateRun(ctx, run))

	var batch []*ledger.StrategyTask
	for _, tf := range testTimeframes {
		for _, name := range configNames {
			task, err := ledger.NewTask(run.ExecutionID, symbol, tf, name, asOf)
			require.NoError(t, err)
			batch = append(batch, task)
		}
	}
	require.NoError(t, f.guard.SafeInsertTasks(ctx, batch))
	return run
}

// hourlySeries builds count hourly candles ending at end, gently trending up.
func hourlySeries(end time.Time, count int) series.Series {
	s := make(series.Series, count)
	start := end.Add(-time.Duration(count-1) * time.Hour)
	price := 100.0
	for i := range s {
		s[i] = series.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price * 1.002,
			Volume:    1000,
		}
		price *= 1.002
	}
	return s
}

type staticData struct {
	s series.Series
}

func (d staticData) Series(ctx context.Context, symbol, timeframe string) (series.Series, error) {
	return d.s, nil
}

// funcEvaluator adapts a function to the Evaluator interface.
type funcEvaluator func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error)

func (f funcEvaluator) Evaluate(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
	return f(ctx, s, cfg)
}

// tradesFrom builds a valid single-trade evaluation out of the clamped window.
func tradesFrom(s series.Series) *executor.Evaluation {
	first, last := s[0], s[len(s)-1]
	trades := []artifact.Trade{{
		EntryTime:  first.Timestamp,
		ExitTime:   last.Timestamp,
		EntryPrice: first.Close,
		ExitPrice:  last.Close,
		Leverage:   2.0,
		Side:       "long",
		PnLPct:     (last.Close - first.Close) / first.Close * 2.0,
	}}
	ev := &executor.Evaluation{Trades: trades}
	one := 1.0
	ret := trades[0].PnLPct
	lev := 2.0
	ev.Metrics = ledger.Metrics{TotalTrades: 1, WinRate: &one, TotalReturn: &ret, AvgLeverage: &lev}
	return ev
}

func testConfigs(names ...string) map[string]executor.StrategyConfig {
	m := make(map[string]executor.StrategyConfig, len(names))
	for _, n := range names {
		m[n] = executor.StrategyConfig{
			Name: n, MaxLeverage: 10, StopLossPct: 0.03, TakeProfitPct: 0.06,
			SMAPeriod: 20, SupportWindow: 50, MaxHoldBars: 24,
		}
	}
	return m
}

func execCfg(workers int) config.ExecutorConfig {
	return config.ExecutorConfig{
		Workers:            workers,
		PollIntervalMs:     10,
		MaxRetries:         2,
		TaskTimeoutSeconds: 30,
	}
}

func newPool(f *fixture, data executor.MarketData, eval executor.Evaluator, cfg config.ExecutorConfig, aggregation string) *executor.Pool {
	return executor.NewPool(f.tasks, f.runs, data, eval, f.artifacts,
		nil, testConfigs("conservative", "balanced", "aggressive"), cfg, aggregation, nil)
}

func TestPoolCompletesAllTasks(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	run := f.seedExecution(t, "BTC", asOf, []string{"conservative", "balanced", "aggressive"})

	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		return tradesFrom(s), nil
	})
	pool := newPool(f, staticData{hourlySeries(asOf, 200)}, eval, execCfg(4), config.AggregationLenient)

	status, err := pool.RunToCompletion(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, status)

	progress, err := f.tasks.GetProgress(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, 18, progress.Total)
	assert.Equal(t, 18, progress.Completed)
	assert.Zero(t, progress.Failed)

	// Every task carries an artifact ref and the artifact loads back.
	all, err := f.tasks.ListByExecution(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	for _, task := range all {
		require.NotEmpty(t, task.ArtifactRef)
		trades, err := f.artifacts.Load(task.ArtifactRef)
		require.NoError(t, err)
		assert.Len(t, trades, 1)
	}

	// The cached run status matches the derived one.
	got, err := f.runs.GetRun(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, got.Status)
}

func TestNoSignalCompletion(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	run := f.seedExecution(t, "ETH", asOf, []string{"conservative"})

	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		return &executor.Evaluation{}, nil
	})
	pool := newPool(f, staticData{hourlySeries(asOf, 200)}, eval, execCfg(2), config.AggregationLenient)

	status, err := pool.RunToCompletion(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, status)

	all, err := f.tasks.ListByExecution(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	for _, task := range all {
		assert.Equal(t, ledger.TaskStatusCompleted, task.Status)
		assert.Equal(t, ledger.ResultNoSignal, task.ResultStatus)
		assert.Empty(t, task.ArtifactRef)
		assert.Zero(t, task.Metrics.TotalTrades)
		assert.Nil(t, task.Metrics.WinRate)
		assert.Nil(t, task.Metrics.SharpeRatio)
		assert.Empty(t, task.ErrorKind, "no_signal is a completion, not an error")
	}
}

func TestRetryExhaustion(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ctx := context.Background()
	run := ledger.NewRun("SOL", "test")
	require.NoError(t, f.runs.CreateRun(ctx, run))
	task, err := ledger.NewTask(run.ExecutionID, "SOL", "1h", "balanced", asOf)
	require.NoError(t, err)
	require.NoError(t, f.guard.SafeInsertTasks(ctx, []*ledger.StrategyTask{task}))

	var mu sync.Mutex
	attempts := 0
	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("indicator pipeline exploded")
	})
	cfg := execCfg(2)
	pool := newPool(f, staticData{hourlySeries(asOf, 200)}, eval, cfg, config.AggregationLenient)

	status, err := pool.RunToCompletion(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusFailed, status)

	got, err := f.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TaskStatusFailed, got.Status)
	assert.Equal(t, string(errors.KindComputation), got.ErrorKind)
	assert.Equal(t, cfg.MaxRetries, got.RetryCount, "attempts are capped at the retry ceiling")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, cfg.MaxRetries, attempts)
}

func TestTransientFailureEventuallySucceeds(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	run := f.seedExecution(t, "BTC", asOf, []string{"balanced"})

	// The feed fails the first fetch of every timeframe, then recovers.
	data := &flakyData{s: hourlySeries(asOf, 200), failed: map[string]bool{}}
	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		return tradesFrom(s), nil
	})
	pool := newPool(f, data, eval, execCfg(3), config.AggregationLenient)

	status, err := pool.RunToCompletion(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, status)

	all, err := f.tasks.ListByExecution(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	for _, task := range all {
		assert.Equal(t, ledger.TaskStatusCompleted, task.Status)
		assert.Equal(t, 1, task.RetryCount)
	}
}

func TestEvaluatorNeverSeesPostAsOfData(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	run := f.seedExecution(t, "BTC", asOf, []string{"conservative"})

	// The feed extends 72 hours past the decision time.
	full := hourlySeries(asOf.Add(72*time.Hour), 300)

	var mu sync.Mutex
	var observedEnds []time.Time
	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		mu.Lock()
		observedEnds = append(observedEnds, s.End())
		mu.Unlock()
		return &executor.Evaluation{}, nil
	})
	pool := newPool(f, staticData{full}, eval, execCfg(3), config.AggregationLenient)

	status, err := pool.RunToCompletion(context.Background(), run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observedEnds)
	for _, end := range observedEnds {
		assert.False(t, end.After(asOf), "evaluator saw data after the as-of boundary: %s", end)
	}
}

func TestTimeoutIsTerminalNotRetried(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ctx := context.Background()
	run := ledger.NewRun("BTC", "test")
	require.NoError(t, f.runs.CreateRun(ctx, run))
	task, err := ledger.NewTask(run.ExecutionID, "BTC", "1h", "balanced", asOf)
	require.NoError(t, err)
	require.NoError(t, f.guard.SafeInsertTasks(ctx, []*ledger.StrategyTask{task}))

	var mu sync.Mutex
	attempts := 0
	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := execCfg(1)
	cfg.TaskTimeoutSeconds = 1
	pool := newPool(f, staticData{hourlySeries(asOf, 200)}, eval, cfg, config.AggregationLenient)

	status, err := pool.RunToCompletion(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusFailed, status)

	got, err := f.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TaskStatusFailed, got.Status)
	assert.Equal(t, string(errors.KindTimeout), got.ErrorKind)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "timeouts are terminal")
}

func TestUnknownConfigFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ctx := context.Background()
	run := ledger.NewRun("BTC", "test")
	require.NoError(t, f.runs.CreateRun(ctx, run))
	task, err := ledger.NewTask(run.ExecutionID, "BTC", "1h", "experimental_v9", asOf)
	require.NoError(t, err)
	require.NoError(t, f.guard.SafeInsertTasks(ctx, []*ledger.StrategyTask{task}))

	eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
		t.Error("evaluator must not run for an unknown config")
		return nil, errors.New("unreachable")
	})
	pool := newPool(f, staticData{hourlySeries(asOf, 200)}, eval, execCfg(2), config.AggregationLenient)

	status, err := pool.RunToCompletion(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusFailed, status)

	got, err := f.tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, string(errors.KindValidation), got.ErrorKind)
	assert.Equal(t, 1, got.RetryCount)
}

func TestMixedOutcomesFollowAggregationPolicy(t *testing.T) {
	run := func(t *testing.T, aggregation string) ledger.RunStatus {
		f := newFixture(t)
		asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		exec := f.seedExecution(t, "BTC", asOf, []string{"conservative"})

		// 5m tasks fail, everything else completes.
		eval := funcEvaluator(func(ctx context.Context, s series.Series, cfg executor.StrategyConfig) (*executor.Evaluation, error) {
			return &executor.Evaluation{}, nil
		})
		pool := executor.NewPool(f.tasks, f.runs, failingTimeframeData{hourlySeries(asOf, 200), "5m"},
			eval, f.artifacts, nil, testConfigs("conservative"), execCfg(2), aggregation, nil)

		status, err := pool.RunToCompletion(context.Background(), exec.ExecutionID)
		require.NoError(t, err)
		return status
	}

	assert.Equal(t, ledger.RunStatusPartial, run(t, config.AggregationLenient))
	assert.Equal(t, ledger.RunStatusFailed, run(t, config.AggregationStrict))
}

// flakyData fails the first fetch per timeframe, then serves normally.
type flakyData struct {
	mu     sync.Mutex
	s      series.Series
	failed map[string]bool
}

func (d *flakyData) Series(ctx context.Context, symbol, timeframe string) (series.Series, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.failed[timeframe] {
		d.failed[timeframe] = true
		return nil, errors.New("transient data glitch")
	}
	return d.s, nil
}

// failingTimeframeData errors for one timeframe and serves the rest.
type failingTimeframeData struct {
	s    series.Series
	fail string
}

func (d failingTimeframeData) Series(ctx context.Context, symbol, timeframe string) (series.Series, error) {
	if timeframe == d.fail {
		return nil, errors.New("exchange feed unavailable")
	}
	return d.s, nil
}
