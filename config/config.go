// Package config loads the long-trader core configuration via Viper.
package config

import "runtime"

// Config represents the core long-trader configuration
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// StoreConfig locates the two independently-addressable SQLite stores.
// The execution ledger and the task/metrics table live in separate files and
// cannot share a native transaction; the integrity guard bridges them.
type StoreConfig struct {
	RunsPath  string `mapstructure:"runs_path"`  // ExecutionRun store
	TasksPath string `mapstructure:"tasks_path"` // StrategyTask/metrics store
}

// ArtifactsConfig configures the compressed trade artifact store
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ExecutorConfig configures the parallel backtest executor
type ExecutorConfig struct {
	Workers            int `mapstructure:"workers"`              // 0 = one per CPU
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`     // claim-loop idle wait
	MaxRetries         int `mapstructure:"max_retries"`          // evaluator retry ceiling per task
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"` // wall-clock budget per task
	LockRetryLimit     int `mapstructure:"lock_retry_limit"`     // store-busy retries before LockContention
	LockRetryBaseMs    int `mapstructure:"lock_retry_base_ms"`   // backoff base for store-busy retries
}

// Run aggregation policies for executions where some but not all tasks fail.
const (
	// AggregationLenient: SUCCESS when at least one task completed and none
	// failed; PARTIAL when both outcomes are present.
	AggregationLenient = "lenient"
	// AggregationStrict: SUCCESS only when every task completed.
	AggregationStrict = "strict"
)

// Orphan remediation policies.
const (
	RemediationDelete   = "delete"   // hard delete orphaned task rows
	RemediationSentinel = "sentinel" // reassign orphans to a quarantine run
)

// PolicyConfig configures the deliberately-configurable behaviours:
// run status aggregation and orphan remediation.
type PolicyConfig struct {
	Aggregation          string `mapstructure:"aggregation"`           // lenient | strict
	OrphanRemediation    string `mapstructure:"orphan_remediation"`    // delete | sentinel
	SweepIntervalMinutes int    `mapstructure:"sweep_interval_minutes"`
}

// NotifyConfig configures the fire-and-forget lifecycle notifier
type NotifyConfig struct {
	WebhookURL      string `mapstructure:"webhook_url"` // empty = log-only
	EventsPerMinute int    `mapstructure:"events_per_minute"`
}

// WorkerCount resolves the configured worker count, defaulting to one worker
// per available CPU. Backtests are CPU-bound so there is no gain past that.
func (c ExecutorConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
