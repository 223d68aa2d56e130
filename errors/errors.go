// Package errors provides error handling for long-trader.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrValidation) {
//	    // reject the write, never retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Mark associates err with a reference sentinel so Is(err, reference) holds
// without changing err's message. Used to classify collaborator failures into
// the domain kinds.
var Mark = crdb.Mark

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll

	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Kind classifies task failures for the ledger's error_kind column.
// Kinds decide retry behaviour: validation and integrity errors are never
// retried, computation errors retry up to the task ceiling, lock contention
// retries locally with backoff before becoming terminal.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindLockContention Kind = "lock_contention"
	KindComputation    Kind = "computation"
	KindIntegrity      Kind = "integrity"
	KindTimeout        Kind = "timeout"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
)

// Sentinel errors for the orchestrator's failure taxonomy.
// Wrap these with errors.Wrap() to add context while preserving the kind.
var (
	// ErrValidation indicates a missing/invalid execution reference or a
	// malformed config. The offending write is rejected, never retried.
	ErrValidation = New("validation error")

	// ErrLockContention indicates the embedded store stayed busy through the
	// bounded retry loop. Surfaces as a terminal task failure.
	ErrLockContention = New("store lock contention")

	// ErrComputation indicates the evaluator raised an unexpected error.
	// Retried up to the task's retry ceiling.
	ErrComputation = New("computation failure")

	// ErrIntegrity indicates an orphaned task, a duplicate identity collision
	// or a corrupt artifact. Never auto-retried; queued for explicit remediation.
	ErrIntegrity = New("integrity violation")

	// ErrTaskTimeout indicates a task exceeded its wall-clock budget. Terminal.
	ErrTaskTimeout = New("task timeout")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = New("not found")
)

// KindOf maps an error to its Kind for persistence on the owning task row.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case Is(err, ErrValidation):
		return KindValidation
	case Is(err, ErrLockContention):
		return KindLockContention
	case Is(err, ErrIntegrity):
		return KindIntegrity
	case Is(err, ErrTaskTimeout):
		return KindTimeout
	case Is(err, ErrComputation):
		return KindComputation
	default:
		return KindUnknown
	}
}

// Retryable reports whether a task failure of this kind may be requeued.
func (k Kind) Retryable() bool {
	switch k {
	case KindComputation, KindUnknown:
		return true
	default:
		return false
	}
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewIntegrityError creates an integrity violation with a formatted message.
func NewIntegrityError(format string, args ...interface{}) error {
	return Wrap(ErrIntegrity, Newf(format, args...).Error())
}
