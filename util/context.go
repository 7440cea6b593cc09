// Package util holds small helpers shared by the bridge packages.
package util

import (
	"context"
	"time"
)

// WithTimeout runs fn under a deadline of dur. A non-positive dur runs fn with ctx as is.
func WithTimeout(ctx context.Context, dur time.Duration, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if dur <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, dur)
	defer cancelTimeout()

	return fn(timeoutCtx)
}
