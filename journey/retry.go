package journey

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxRetries is the number of additional attempts after the first.
	// Total attempts = MaxRetries + 1.
	MaxRetries int

	// Backoff is the base delay for exponential backoff between attempts.
	// The delay before retry n is min(Backoff * 2^n, MaxBackoff) plus
	// jitter in [0, Backoff).
	Backoff time.Duration

	// MaxBackoff caps the exponential growth. Zero means no cap.
	MaxBackoff time.Duration

	// ShouldRetry decides whether a failed attempt is retried. If nil,
	// ClassifyError(err).Retryable is used.
	ShouldRetry func(error) bool
}

// computeBackoff returns the delay before retry attempt n (zero-based)
// using exponential backoff with jitter to avoid synchronized retry
// storms across concurrent steps.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	// Jitter timing only, not security sensitive.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404
	return delay + jitter
}

// WithRetry runs op up to opts.MaxRetries+1 times, sleeping the backoff
// delay between attempts. The retry predicate defaults to the error
// classifier's retryable flag; callers may override it (for example to
// force retries in tests). Context cancellation aborts the wait between
// attempts and is returned as-is.
func WithRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts RetryOptions) (T, error) {
	var zero T

	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return ClassifyError(err).Retryable }
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, opts.Backoff, opts.MaxBackoff)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return zero, ctx.Err()
				}
			}
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}
	}

	return zero, lastErr
}

// WithTimeout races op against a timer. On expiry it returns a TIMEOUT
// JourneyError (retryable) immediately; the abandoned operation's
// eventual result is discarded. The operation receives a context that is
// cancelled at the deadline so well-behaved handlers can stop early.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if d <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	// Buffered so the abandoned goroutine can complete and be collected.
	done := make(chan outcome, 1)

	go func() {
		val, err := op(opCtx)
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &JourneyError{
			Code:      CodeTimeout,
			Message:   fmt.Sprintf("operation exceeded timeout of %v", d),
			Retryable: true,
		}
	}
}
