// Package ledger is the durable record of execution runs and their strategy
// tasks. Runs and tasks live in two physically separate SQLite stores; the
// integrity package bridges them.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an ExecutionRun
type RunStatus string

const (
	RunStatusPending RunStatus = "PENDING"
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusPartial RunStatus = "PARTIAL"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusPartial:
		return true
	default:
		return false
	}
}

// ExecutionRun is one triggered symbol-addition/re-analysis request, spanning
// many strategy tasks. Never physically deleted except by explicit
// administrative cleanup.
type ExecutionRun struct {
	ExecutionID     string     `json:"execution_id"`
	Symbol          string     `json:"symbol"`
	TriggerSource   string     `json:"trigger_source"`
	Status          RunStatus  `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	SelectedTaskIDs []string   `json:"selected_task_ids,omitempty"`
}

// NewRun creates a pending ExecutionRun with a fresh execution ID.
func NewRun(symbol, triggerSource string) *ExecutionRun {
	return &ExecutionRun{
		ExecutionID:   "exec_" + uuid.NewString(),
		Symbol:        symbol,
		TriggerSource: triggerSource,
		Status:        RunStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// Start marks the run as running. Called when the first task is claimed.
func (r *ExecutionRun) Start() {
	now := time.Now().UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// Finish caches the derived terminal status once all tasks have resolved.
func (r *ExecutionRun) Finish(status RunStatus) {
	now := time.Now().UTC()
	r.Status = status
	r.EndedAt = &now
}
