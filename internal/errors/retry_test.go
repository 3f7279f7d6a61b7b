package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetryConfig(), fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // Initial + 2 retries
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), fastRetryConfig(), func() ([]float32, error) {
		attempts++
		if attempts == 1 {
			return nil, New(ErrCodeProviderUnavailable, "503", nil)
		}
		return []float32{1, 2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithResult_ShouldRetryStopsOnPermanentError(t *testing.T) {
	// Given: the default predicate and a non-retryable provider rejection
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	attempts := 0

	// When: the call is rejected
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, New(ErrCodeProviderRejected, "400 bad input", nil)
	})

	// Then: no retry happens and the error comes back unchanged
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeProviderRejected, GetCode(err))
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetryConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		attempts++
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_OnRetryReportsEachWait(t *testing.T) {
	cfg := fastRetryConfig()
	var retries []int
	cfg.OnRetry = func(retry int, wait time.Duration, err error) {
		retries = append(retries, retry)
		assert.Positive(t, wait)
		assert.Error(t, err)
	}

	_ = Retry(context.Background(), cfg, func() error { return errors.New("down") })

	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryConfig_BackoffCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, cfg.backoff(0))
	assert.Equal(t, 20*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 30*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 30*time.Millisecond, cfg.backoff(6))
}

func TestRetryConfig_JitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: true}

	for range 50 {
		d := cfg.backoff(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}
