package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errThrottled = errors.New("throttled")

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff{Step: 2 * time.Second, Max: 5 * time.Second}

	assert.Equal(t, 2*time.Second, b.NextDelay(0))
	assert.Equal(t, 2*time.Second, b.NextDelay(1))
	assert.Equal(t, 4*time.Second, b.NextDelay(2))
	assert.Equal(t, 5*time.Second, b.NextDelay(3))
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff{Step: time.Millisecond},
	}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoExhausts(t *testing.T) {
	last := errors.New("attempt 2")
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 2}, func(ctx context.Context, attempt int) error {
		if attempt == 2 {
			return last
		}
		return errors.New("attempt 1")
	})

	assert.Equal(t, 2, attempts)
	assert.Same(t, last, err)
}

func TestDoUsesThrottleCooldown(t *testing.T) {
	var delays []time.Duration
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff{Step: time.Millisecond},
		Throttle:    LinearBackoff{Step: 3 * time.Millisecond},
		IsThrottled: func(err error) bool { return errors.Is(err, errThrottled) },
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return errThrottled
		}
		return errors.New("plain")
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{3 * time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := Do(ctx, Policy{
		MaxAttempts: 5,
		Backoff:     LinearBackoff{Step: time.Hour},
	}, func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}
