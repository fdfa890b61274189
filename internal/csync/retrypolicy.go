package csync

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how store operations are retried. Only errors wrapped
// as TransientError are retried; everything else (not-found, version
// conflicts, malformed input, authorization failures) surfaces immediately.
type RetryPolicy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
}

// DefaultRetryPolicy retries up to 5 times with exponential backoff
// starting at 250ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond}
}

// Do runs fn, retrying transient failures with exponential backoff until
// the attempt budget is exhausted. The returned error is the last error
// from fn, unwrapped from any retry bookkeeping.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(p.MaxAttempts, retry.NewExponential(p.BaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
