package extraction

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines backoff behavior for extractor backend calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryPolicy provides sensible defaults for extractor calls.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
}

// Retry runs fn up to MaxAttempts times, sleeping with exponential backoff
// and jitter between attempts. Non-retryable errors abort immediately. The
// last ExtractionError is returned when all attempts fail.
func Retry(ctx context.Context, backend string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var last *ExtractionError
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		last = Categorize(backend, err)
		if !last.Retryable || attempt >= policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Categorize(backend, ctx.Err())
		case <-time.After(backoffDelay(attempt, policy)):
		}
	}
	return last
}

// backoffDelay computes the attempt's delay: initial * multiple^(attempt-1),
// capped at MaxDelay, with up to 25% jitter to avoid thundering herds.
func backoffDelay(attempt int, policy RetryPolicy) time.Duration {
	delay := float64(policy.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= policy.BackoffMultiple
	}
	if max := float64(policy.MaxDelay); delay > max {
		delay = max
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}
