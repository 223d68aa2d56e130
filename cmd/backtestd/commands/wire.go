// Package commands implements the backtestd CLI subcommands. Commands are
// thin wiring: load config, open the stores, hand off to the domain packages.
package commands

import (
	"database/sql"
	"time"

	"github.com/taku247/long-trader-sub006/artifact"
	"github.com/taku247/long-trader-sub006/config"
	"github.com/taku247/long-trader-sub006/db"
	"github.com/taku247/long-trader-sub006/executor"
	"github.com/taku247/long-trader-sub006/integrity"
	"github.com/taku247/long-trader-sub006/ledger"
	"github.com/taku247/long-trader-sub006/logger"
	"github.com/taku247/long-trader-sub006/notify"
	"github.com/taku247/long-trader-sub006/orchestrator"
)

var configPath string

// system bundles the wired components behind every subcommand.
type system struct {
	cfg   *config.Config
	runs  *ledger.RunStore
	tasks *ledger.TaskStore
	guard *integrity.Guard
	orch  *orchestrator.Orchestrator

	runDB  *sql.DB
	taskDB *sql.DB
}

func (s *system) Close() {
	if s.taskDB != nil {
		s.taskDB.Close()
	}
	if s.runDB != nil {
		s.runDB.Close()
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func retryPolicy(cfg *config.Config) db.RetryPolicy {
	policy := db.DefaultRetryPolicy()
	if cfg.Executor.LockRetryLimit > 0 {
		policy.MaxAttempts = cfg.Executor.LockRetryLimit
	}
	if cfg.Executor.LockRetryBaseMs > 0 {
		policy.BaseBackoff = time.Duration(cfg.Executor.LockRetryBaseMs) * time.Millisecond
	}
	return policy
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	log := notify.NewLogNotifier(logger.Logger)
	if cfg.Notify.WebhookURL == "" {
		return log
	}
	return notify.Multi{
		log,
		notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.EventsPerMinute, logger.Logger),
	}
}

// openSystem wires stores, guard, pool and orchestrator from the loaded
// config. data may be nil for commands that never execute tasks.
func openSystem(data executor.MarketData) (*system, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	runDB, err := ledger.OpenRunDB(cfg.Store.RunsPath, logger.Logger)
	if err != nil {
		return nil, err
	}
	taskDB, err := ledger.OpenTaskDB(cfg.Store.TasksPath, logger.Logger)
	if err != nil {
		runDB.Close()
		return nil, err
	}

	policy := retryPolicy(cfg)
	runs := ledger.NewRunStore(runDB, policy, logger.Logger)
	tasks := ledger.NewTaskStore(taskDB, policy, logger.Logger)
	guard := integrity.NewGuard(runs, tasks, cfg.Store.RunsPath, logger.Logger)

	artifacts, err := artifact.NewStore(cfg.Artifacts.Dir, logger.Logger)
	if err != nil {
		taskDB.Close()
		runDB.Close()
		return nil, err
	}

	notifier := buildNotifier(cfg)
	configs := orchestrator.DefaultConfigs()
	pool := executor.NewPool(tasks, runs, data, executor.SupportBounceEvaluator{}, artifacts,
		notifier, configs, cfg.Executor, cfg.Policy.Aggregation, logger.Logger)
	orch := orchestrator.New(runs, tasks, guard, pool, artifacts, notifier, configs, cfg.Policy.Aggregation, logger.Logger)

	return &system{
		cfg:    cfg,
		runs:   runs,
		tasks:  tasks,
		guard:  guard,
		orch:   orch,
		runDB:  runDB,
		taskDB: taskDB,
	}, nil
}
