package logger

// Standard field names for consistent structured logging across long-trader.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldExecutionID = "execution_id"
	FieldTaskID      = "task_id"
	FieldWorkerID    = "worker_id"

	// Domain
	FieldSymbol     = "symbol"
	FieldTimeframe  = "timeframe"
	FieldConfigName = "config_name"
	FieldArtifact   = "artifact_ref"
	FieldAsOf       = "as_of"

	// Components
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"
	FieldRetry     = "retry_count"
	FieldAttempts  = "attempts"

	// Counts
	FieldCount     = "count"
	FieldCompleted = "completed"
	FieldFailed    = "failed"
	FieldTotal     = "total"

	// Status
	FieldStatus = "status"
)
