package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines backoff behaviour for provider calls.
type RetryPolicy struct {
	MaxRetries   int           // retry attempts after the first call (0 = no retries)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap for backoff and Retry-After hints
	Multiplier   float64       // exponential backoff multiplier
	Jitter       bool          // add 0-20% random variation to delays
}

// DefaultRetryPolicy matches the loop contract: transient failures are
// retried at most twice before the error surfaces to the user.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy executes fn, retrying on retryable provider errors with
// exponential backoff. Rate-limit errors that carry a Retry-After hint wait
// that long instead. Returns the result on success or the last error once
// attempts are exhausted.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T

	attempt := 0

	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !errorRetryable(err) {
			return zero, err
		}

		if attempt >= policy.MaxRetries {
			return zero, fmt.Errorf("retries exhausted after %d attempts: %w", attempt+1, err)
		}

		delay := backoffDelay(policy, attempt, err)

		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("cancelled during retry wait: %w", ctx.Err())
		case <-time.After(delay):
		}

		attempt++
	}
}

func errorRetryable(err error) bool {
	switch ClassifyProviderError(err) {
	case ErrKindRateLimit, ErrKindTransient:
		return true
	default:
		return false
	}
}

// backoffDelay computes the wait before the next attempt. A Retry-After
// hint from the provider wins over exponential backoff, capped at MaxDelay.
func backoffDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if retryAfter := ExtractRetryAfter(err); retryAfter > 0 {
		if retryAfter > policy.MaxDelay {
			return policy.MaxDelay
		}
		return retryAfter
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}

	return time.Duration(delay)
}
