package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/meetjot/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
)

// RetryPolicy retries errors wrapping domain.ErrTransient with exponential
// backoff. Any other error stops immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseBackoff: defaultBaseBackoff,
		MaxBackoff:  defaultMaxBackoff,
	}
}

// Backoff returns the wait before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	if retry < 1 {
		retry = 1
	}
	if retry > 30 {
		retry = 30
	}

	backoff := base * time.Duration(1<<(retry-1))
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// Do calls fn until it succeeds, fails permanently, or the attempt cap is
// reached. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.Backoff(attempt-1)); err != nil {
				return attempt - 1, errors.Join(lastErr, err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrTransient) {
			return attempt, err
		}
	}

	return maxAttempts, fmt.Errorf("max attempts (%d) exceeded: %w", maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func noSleep(context.Context, time.Duration) error {
	return nil
}
