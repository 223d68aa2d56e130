package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taku247/long-trader-sub006/config"
	"github.com/taku247/long-trader-sub006/errors"
	"github.com/taku247/long-trader-sub006/ledger"
)

func TestRunStoreRoundTrip(t *testing.T) {
	runs, _ := testStores(t)
	ctx := context.Background()

	run := ledger.NewRun("SOL", "watchlist")
	run.SelectedTaskIDs = []string{"task_a", "task_b"}
	require.NoError(t, runs.CreateRun(ctx, run))

	got, err := runs.GetRun(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "SOL", got.Symbol)
	assert.Equal(t, "watchlist", got.TriggerSource)
	assert.Equal(t, ledger.RunStatusPending, got.Status)
	assert.Equal(t, []string{"task_a", "task_b"}, got.SelectedTaskIDs)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.EndedAt)
}

func TestRunStoreGetMissing(t *testing.T) {
	runs, _ := testStores(t)

	_, err := runs.GetRun(context.Background(), "exec_nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRunStoreExists(t *testing.T) {
	runs, _ := testStores(t)
	ctx := context.Background()

	run := ledger.NewRun("BTC", "test")
	require.NoError(t, runs.CreateRun(ctx, run))

	ok, err := runs.Exists(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = runs.Exists(ctx, "nonexistent_123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunStoreLifecycle(t *testing.T) {
	runs, _ := testStores(t)
	ctx := context.Background()

	run := ledger.NewRun("BTC", "test")
	require.NoError(t, runs.CreateRun(ctx, run))

	require.NoError(t, runs.SetRunning(ctx, run.ExecutionID))
	got, err := runs.GetRun(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.False(t, got.StartedAt.Before(got.CreatedAt))

	// SetRunning on a running run is a no-op, not a restart.
	firstStart := *got.StartedAt
	require.NoError(t, runs.SetRunning(ctx, run.ExecutionID))
	again, err := runs.GetRun(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.True(t, again.StartedAt.Equal(firstStart))

	require.NoError(t, runs.SetTerminal(ctx, run.ExecutionID, ledger.RunStatusSuccess))
	done, err := runs.GetRun(ctx, run.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RunStatusSuccess, done.Status)
	require.NotNil(t, done.EndedAt)
}

func TestSetTerminalRejectsNonTerminalStatus(t *testing.T) {
	runs, _ := testStores(t)

	err := runs.SetTerminal(context.Background(), "exec_x", ledger.RunStatusRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestDeriveRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		progress ledger.Progress
		policy   string
		want     ledger.RunStatus
	}{
		{"all pending", ledger.Progress{Total: 4, Pending: 4}, config.AggregationLenient, ledger.RunStatusPending},
		{"mid-run", ledger.Progress{Total: 4, Pending: 1, Running: 1, Completed: 2}, config.AggregationLenient, ledger.RunStatusRunning},
		{"all completed", ledger.Progress{Total: 4, Completed: 4}, config.AggregationLenient, ledger.RunStatusSuccess},
		{"all failed", ledger.Progress{Total: 4, Failed: 4}, config.AggregationLenient, ledger.RunStatusFailed},
		{"mixed lenient", ledger.Progress{Total: 4, Completed: 3, Failed: 1}, config.AggregationLenient, ledger.RunStatusPartial},
		{"mixed strict", ledger.Progress{Total: 4, Completed: 3, Failed: 1}, config.AggregationStrict, ledger.RunStatusFailed},
		{"all completed strict", ledger.Progress{Total: 4, Completed: 4}, config.AggregationStrict, ledger.RunStatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.DeriveRunStatus(tt.progress, tt.policy))
		})
	}
}
