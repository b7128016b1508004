package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retry runs fn until it succeeds, fails with something other than a
// conflict, or runs out of attempts. Precondition failures are conflicts too
// but repeating them cannot help, so they stop immediately. A context that
// ends while retrying is reported as ErrStoreUnavailable.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.backoff
	policy.MaxInterval = 10 * e.backoff
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var precondition *PreconditionError
		if errors.Is(err, ErrConflict) && !errors.As(err, &precondition) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		e.metrics.ObserveRetry(op)
		e.logger.Debug("transaction conflict, retrying", "op", op, "wait", wait, "error", err)
	})
	if err != nil && !errors.Is(err, ErrStoreUnavailable) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
