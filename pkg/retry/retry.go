// Package retry builds failsafe executors for operations that fail with
// transient, typed errors such as lock contention.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 50 * time.Millisecond
	maxBackoff      = 2 * time.Second
)

// Config bounds a retry policy. Attempts counts retries after the first call.
type Config struct {
	Attempts int
	Backoff  time.Duration
}

// NewPolicy retries only errors the taxonomy marks retryable. Rejections and
// context cancellation stop immediately and the last failure is returned as is.
func NewPolicy[T any](cfg Config) retrypolicy.RetryPolicy[T] {
	attempts := cfg.Attempts
	if attempts < 0 {
		attempts = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	ceiling := maxBackoff
	if backoff > ceiling {
		ceiling = backoff
	}
	return retrypolicy.NewBuilder[T]().
		WithBackoff(backoff, ceiling).
		WithMaxRetries(attempts).
		WithJitterFactor(0.1).
		HandleIf(func(_ T, err error) bool {
			if err == nil {
				return false
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return pkgerrors.IsCode(err, pkgerrors.CodeResourceLocked)
			}
			return pkgerrors.IsRetryable(err)
		}).
		ReturnLastFailure().
		Build()
}

// Get runs fn under policy and returns its result.
func Get[T any](ctx context.Context, policy retrypolicy.RetryPolicy[T], fn func() (T, error)) (T, error) {
	return failsafe.With[T](policy).WithContext(ctx).Get(fn)
}

// Run is Get for operations without a result.
func Run(ctx context.Context, policy retrypolicy.RetryPolicy[any], fn func() error) error {
	_, err := Get(ctx, policy, func() (any, error) {
		return nil, fn()
	})
	return err
}
