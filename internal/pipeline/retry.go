package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/juju/retry"
)

// Retry policy for transient I/O faults (file locks, disk contention). The
// attempt ceiling is deliberately small: a stage that fails three times is
// surfaced as a stage failure and picked up again next cycle.
const (
	retryAttempts = 3
	retryDelay    = 500 * time.Millisecond
	retryMaxDelay = 5 * time.Second
)

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// withRetry runs fn under exponential backoff with jitter. Context
// cancellation is fatal and never retried.
func withRetry(ctx context.Context, name string, fn func() error) error {
	return retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		NotifyFunc: func(err error, attempt int) {
			log.Printf("pipeline: %s attempt %d failed: %v", name, attempt, err)
		},
		Attempts:    retryAttempts,
		Delay:       retryDelay,
		MaxDelay:    retryMaxDelay,
		BackoffFunc: retry.ExpBackoff(retryDelay, retryMaxDelay, 2.0, true),
		Clock:       wallClock{},
		Stop:        ctx.Done(),
	})
}
