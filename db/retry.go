package db

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/taku247/long-trader-sub006/errors"
)

// RetryPolicy bounds the retry loop for store-busy conditions.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseBackoff time.Duration // first backoff; doubles per attempt
}

// DefaultRetryPolicy matches the executor config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond}
}

// Retry runs fn, retrying on SQLITE_BUSY/SQLITE_LOCKED with bounded
// exponential backoff and jitter. It is an explicit, inspectable loop: the
// attempt count is returned so callers can record it on the owning task row.
//
// Once the ceiling is reached the busy condition is wrapped with
// errors.ErrLockContention and becomes a terminal failure - never an
// infinite retry. Non-busy errors return immediately with attempts so far.
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.SugaredLogger, op string, fn func() error) (attempts int, err error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = 50 * time.Millisecond
	}

	backoff := policy.BaseBackoff
	for attempts = 1; ; attempts++ {
		err = fn()
		if err == nil || !IsLocked(err) {
			return attempts, err
		}

		if attempts >= policy.MaxAttempts {
			return attempts, errors.Wrapf(errors.ErrLockContention,
				"%s: store busy after %d attempts: %v", op, attempts, err)
		}

		// Full jitter on top of the doubled base keeps colliding workers
		// from re-colliding in lockstep.
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)))
		if logger != nil {
			logger.Debugw("Store busy, backing off",
				"operation", op,
				"attempt", attempts,
				"backoff", sleep,
			)
		}

		select {
		case <-ctx.Done():
			return attempts, errors.Wrapf(ctx.Err(), "%s: cancelled during lock retry", op)
		case <-time.After(sleep):
		}
		backoff *= 2
	}
}
