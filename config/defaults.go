package config

import "github.com/spf13/viper"

// SetDefaults registers configuration defaults on a Viper instance.
// Every key has a usable default so a missing config file is not an error.
func SetDefaults(v *viper.Viper) {
	// Stores
	v.SetDefault("store.runs_path", "data/execution_runs.db")
	v.SetDefault("store.tasks_path", "data/strategy_tasks.db")

	// Artifacts
	v.SetDefault("artifacts.dir", "data/artifacts")

	// Executor
	v.SetDefault("executor.workers", 0) // one per CPU
	v.SetDefault("executor.poll_interval_ms", 250)
	v.SetDefault("executor.max_retries", 2)
	v.SetDefault("executor.task_timeout_seconds", 600)
	v.SetDefault("executor.lock_retry_limit", 5)
	v.SetDefault("executor.lock_retry_base_ms", 50)

	// Policies
	v.SetDefault("policy.aggregation", AggregationLenient)
	v.SetDefault("policy.orphan_remediation", RemediationDelete)
	v.SetDefault("policy.sweep_interval_minutes", 15)

	// Notifications
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.events_per_minute", 30)
}
