package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds an exponential backoff retry loop.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry calls fn until it succeeds, returns a permanent error, ctx is done or
// the attempts run out. onRetry is called before every wait with the failed
// attempt number (starting at 1). It returns the number of attempts made and
// the last error.
func Retry(
	ctx context.Context,
	p RetryPolicy,
	fn func(ctx context.Context, attempt int) error,
	onRetry func(attempt int, err error, wait time.Duration),
) (int, error) {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}

	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}

	bo.MaxElapsedTime = 0

	attempts := max(p.MaxAttempts, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx) //nolint:gosec

	attempt := 0
	op := func() error {
		attempt++

		return fn(ctx, attempt)
	}

	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}

	err := backoff.RetryNotify(op, b, notify)

	return attempt, err //nolint:wrapcheck
}
