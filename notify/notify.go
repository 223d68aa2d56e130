// Package notify delivers task and run lifecycle events. Delivery is strictly
// fire-and-forget: a notification failure is logged and dropped, it never
// propagates into task state or blocks a worker.
package notify

import (
	"github.com/taku247/long-trader-sub006/ledger"
)

// Event is one lifecycle notification.
type Event struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Timeframe   string `json:"timeframe,omitempty"`
	ConfigName  string `json:"config_name,omitempty"`
	Status      string `json:"status,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Event types.
const (
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskSkipped   = "task_skipped"
	EventRunFinished   = "run_finished"
)

// Notifier receives lifecycle events. Implementations must not block the
// caller beyond trivial bookkeeping and must never return delivery errors
// into the execution path.
type Notifier interface {
	TaskStarted(task *ledger.StrategyTask)
	TaskCompleted(task *ledger.StrategyTask)
	TaskFailed(task *ledger.StrategyTask, kind string, detail string)
	TaskSkipped(executionID, taskID, detail string)
	RunFinished(executionID string, status ledger.RunStatus, progress ledger.Progress)
}

// Multi fans every event out to all wrapped notifiers.
type Multi []Notifier

func (m Multi) TaskStarted(task *ledger.StrategyTask) {
	for _, n := range m {
		n.TaskStarted(task)
	}
}

func (m Multi) TaskCompleted(task *ledger.StrategyTask) {
	for _, n := range m {
		n.TaskCompleted(task)
	}
}

func (m Multi) TaskFailed(task *ledger.StrategyTask, kind string, detail string) {
	for _, n := range m {
		n.TaskFailed(task, kind, detail)
	}
}

func (m Multi) TaskSkipped(executionID, taskID, detail string) {
	for _, n := range m {
		n.TaskSkipped(executionID, taskID, detail)
	}
}

func (m Multi) RunFinished(executionID string, status ledger.RunStatus, progress ledger.Progress) {
	for _, n := range m {
		n.RunFinished(executionID, status, progress)
	}
}

func taskEvent(eventType string, task *ledger.StrategyTask) Event {
	return Event{
		Type:        eventType,
		ExecutionID: task.ExecutionID,
		TaskID:      task.TaskID,
		Symbol:      task.Symbol,
		Timeframe:   task.Timeframe,
		ConfigName:  task.ConfigName,
		Status:      string(task.Status),
	}
}
