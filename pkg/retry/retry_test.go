package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/pkg/errors"
)

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryerSucceedsFirstTime(t *testing.T) {
	calls := 0
	err := New(fast(3)).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerRetriesTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	r := New(fast(3)).WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	})

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.NewError(errors.ErrCodeRegistryUnavailable, "redis down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryerStopsOnPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"coded", errors.NewError(errors.ErrCodeInvalidConfig, "unknown driver")},
		{"plain", fmt.Errorf("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := New(fast(5)).Do(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			})
			assert.Same(t, tt.err, err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryerHonorsCodeList(t *testing.T) {
	cfg := fast(2)
	cfg.RetryableErrors = []errors.ErrorCode{errors.ErrCodeOperationFailed}
	calls := 0
	err := New(cfg).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.NewError(errors.ErrCodeOperationFailed, "flaky")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationFailed))
}

func TestRetryerStopsWhenCanceled(t *testing.T) {
	cfg := fast(10)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	r := New(cfg).WithOnRetry(func(int, error, time.Duration) { cancel() })
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return errors.NewError(errors.ErrCodeRegistryUnavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "canceled after 1 attempts")
	assert.True(t, errors.IsCode(err, errors.ErrCodeRegistryUnavailable))
}

func TestDelayBackoff(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})
	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 400*time.Millisecond, r.delay(3))
	assert.Equal(t, time.Second, r.delay(5))

	r.config.Jitter = true
	for i := 0; i < 20; i++ {
		d := r.delay(2)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
