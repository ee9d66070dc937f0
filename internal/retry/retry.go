// Package retry runs an operation a bounded number of times with a linear
// backoff, switching to a longer cooldown when the remote side throttles.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BackoffStrategy returns the delay to wait after the given failed attempt.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// LinearBackoff waits Step × attempt, capped at Max when Max is positive.
type LinearBackoff struct {
	Step time.Duration
	Max  time.Duration
}

// NextDelay implements BackoffStrategy.
func (lb LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := lb.Step * time.Duration(attempt)
	if lb.Max > 0 && d > lb.Max {
		return lb.Max
	}
	return d
}

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	// Throttle replaces Backoff after errors matched by IsThrottled.
	Throttle    BackoffStrategy
	IsThrottled func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Operation is one attempt; attempt numbers start at 1.
type Operation func(ctx context.Context, attempt int) error

// Do runs op until it succeeds or the attempt budget is spent. It returns the
// number of attempts made and the last error.
func Do(ctx context.Context, p Policy, op Operation) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.delay(attempt, lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		slog.Debug("Retrying operation",
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)

		if err := Wait(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", err)
		}
	}
	return maxAttempts, lastErr
}

func (p Policy) delay(attempt int, err error) time.Duration {
	if p.Throttle != nil && p.IsThrottled != nil && p.IsThrottled(err) {
		return p.Throttle.NextDelay(attempt)
	}
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.NextDelay(attempt)
}

// Wait blocks for delay or until ctx is done.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
