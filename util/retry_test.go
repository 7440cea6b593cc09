package util_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/util"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	policy := util.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}

	errBoom := errors.New("boom")

	tests := []struct {
		name         string
		failFor      int
		permanent    bool
		wantAttempts int
		wantErr      bool
		wantRetries  int
	}{
		{name: "first try", failFor: 0, wantAttempts: 1},
		{name: "succeeds on last attempt", failFor: 2, wantAttempts: 3, wantRetries: 2},
		{name: "exhausted", failFor: 10, wantAttempts: 3, wantErr: true, wantRetries: 2},
		{name: "permanent", failFor: 10, permanent: true, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			retries := 0
			attempts, err := util.Retry(t.Context(), policy,
				func(_ context.Context, attempt int) error {
					if attempt <= tt.failFor {
						if tt.permanent {
							return util.Permanent(errBoom)
						}

						return errBoom
					}

					return nil
				},
				func(int, error, time.Duration) { retries++ })

			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantRetries, retries)

			if tt.wantErr {
				require.ErrorIs(t, err, errBoom)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := util.Retry(ctx, util.RetryPolicy{MaxAttempts: 5},
		func(context.Context, int) error { return errors.New("fail") }, nil)
	require.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	err := util.WithTimeout(t.Context(), time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	err = util.WithTimeout(t.Context(), 0, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.False(t, ok)

		return nil
	})
	require.NoError(t, err)
}
