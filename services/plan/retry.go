package plan

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/upb/grc-control-plane/services"
)

const defaultRetryBase = 10 * time.Millisecond

// RetryOnConflict runs fn up to attempts times with exponential backoff while
// it fails with a conflict error. Any other result is returned immediately.
// fn must re-read the state it writes on every call.
func RetryOnConflict(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = defaultRetryBase
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if services.IsConflictError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
