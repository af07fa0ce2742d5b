package publisher

import (
	"context"
	"time"
)

// RetryPolicy bounds repeated publish attempts against one platform.
// Transient failures get MaxAttempts tries with growing backoff; rate
// limits wait for the platform-specified delay (or RateLimitBackoff)
// while the total Budget lasts. Auth and validation failures are never
// retried here.
type RetryPolicy struct {
	MaxAttempts      int
	Backoff          time.Duration
	RateLimitBackoff time.Duration
	Budget           time.Duration
	AttemptTimeout   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		Backoff:          2 * time.Second,
		RateLimitBackoff: 10 * time.Second,
		Budget:           2 * time.Minute,
		AttemptTimeout:   30 * time.Second,
	}
}

// Do runs attempt until it succeeds, exhausts the policy, or fails with
// a non-retryable kind. Each attempt gets its own timeout, separate from
// the overall retry budget.
func (p RetryPolicy) Do(ctx context.Context, attempt func(ctx context.Context) (string, error)) (string, error) {
	deadline := time.Now().Add(p.Budget)

	var lastErr error
	transientTries := 0

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		externalID, err := attempt(attemptCtx)
		cancel()

		if err == nil {
			return externalID, nil
		}
		lastErr = err

		var wait time.Duration
		switch KindOf(err) {
		case KindTransient:
			transientTries++
			if transientTries >= p.MaxAttempts {
				return "", lastErr
			}
			wait = time.Duration(transientTries) * p.Backoff
		case KindRateLimited:
			wait = RetryAfterOf(err)
			if wait <= 0 {
				wait = p.RateLimitBackoff
			}
		default:
			return "", lastErr
		}

		if time.Now().Add(wait).After(deadline) {
			return "", lastErr
		}

		select {
		case <-ctx.Done():
			return "", lastErr
		case <-time.After(wait):
		}
	}
}
