package resilience

import (
	"context"
)

// RetryOnce runs fn and, when the first attempt fails with an error that
// retryable accepts, runs it exactly one more time. maxAttempts below 2
// disables the retry. onRetry is called before the second attempt.
func RetryOnce(ctx context.Context, maxAttempts int, retryable func(error) bool, onRetry func(error), fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || maxAttempts < 2 || retryable == nil || !retryable(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return err
	}
	if onRetry != nil {
		onRetry(err)
	}
	return fn(ctx)
}
