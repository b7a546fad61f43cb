package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectBackoff_Schedule(t *testing.T) {
	b := NewBackoff(ReconnectBackoffConfig(time.Second, 30*time.Second))

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, b.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 30*time.Second, b.Delay(200), "large attempts stay capped")
	assert.Equal(t, time.Second, b.Delay(0), "attempt below 1 is treated as the first")
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 200; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	attempts := 0
	err := b.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  2,
	})

	persistent := errors.New("persistent error")
	attempts := 0
	err := b.Retry(context.Background(), func() error {
		attempts++
		return persistent
	})

	assert.Equal(t, persistent, err)
	assert.Equal(t, 2, attempts)
}

func TestBackoff_NonRetryableStopsImmediately(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 5})

	fatal := errors.New("fatal")
	attempts := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		attempts++
		return fatal
	}, func(err error) bool { return err != fatal })

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_ContextCancelled(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour, MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := b.Retry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
