package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taku247/long-trader-sub006/errors"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AggregationLenient, cfg.Policy.Aggregation)
	assert.Equal(t, RemediationDelete, cfg.Policy.OrphanRemediation)
	assert.Equal(t, 2, cfg.Executor.MaxRetries)
	assert.Equal(t, 5, cfg.Executor.LockRetryLimit)
	assert.Greater(t, cfg.Executor.WorkerCount(), 0)
	assert.NotEqual(t, cfg.Store.RunsPath, cfg.Store.TasksPath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long-trader.toml")
	content := `
[executor]
workers = 3
max_retries = 1

[policy]
aggregation = "strict"
orphan_remediation = "sentinel"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Executor.WorkerCount())
	assert.Equal(t, 1, cfg.Executor.MaxRetries)
	assert.Equal(t, AggregationStrict, cfg.Policy.Aggregation)
	assert.Equal(t, RemediationSentinel, cfg.Policy.OrphanRemediation)
}

func TestValidateRejectsUnknownPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long-trader.toml")
	content := `
[policy]
aggregation = "optimistic"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
