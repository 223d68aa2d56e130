package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Wrap(ErrValidation, "run missing"), KindValidation},
		{"lock contention", Wrapf(ErrLockContention, "after %d attempts", 5), KindLockContention},
		{"computation", Wrap(ErrComputation, "evaluator panicked"), KindComputation},
		{"integrity", NewIntegrityError("orphan task %s", "tsk_1"), KindIntegrity},
		{"timeout", Wrap(ErrTaskTimeout, "budget exceeded"), KindTimeout},
		{"unclassified", New("disk on fire"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindComputation.Retryable())
	assert.True(t, KindUnknown.Retryable())

	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindLockContention.Retryable())
	assert.False(t, KindIntegrity.Retryable())
	assert.False(t, KindTimeout.Retryable())
	assert.False(t, KindCancelled.Retryable())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("execution %s does not exist", "exec_123")

	assert.True(t, Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "exec_123")
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}
