package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// RetryPolicy bounds retries of remote reads and writes.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration // initial delay, doubled per attempt with jitter
	MaxDelay time.Duration
}

// DefaultRetry is used when a Config leaves Retry zero.
var DefaultRetry = RetryPolicy{
	Attempts: 5,
	Delay:    500 * time.Millisecond,
	MaxDelay: 30 * time.Second,
}

// errTransient marks failures worth retrying.
var errTransient = errors.New("transient failure")

// retryWithBackoff runs fn until it succeeds, retryable reports false, the
// attempts run out or ctx is done.
func retryWithBackoff(ctx context.Context, p RetryPolicy, operation string, retryable func(error) bool, fn func() error) error {
	if p.Attempts == 0 {
		p.Attempts = DefaultRetry.Attempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultRetry.Delay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(p.Delay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", p.Attempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return retryable(err)
		}),
	)
}

func always(error) bool { return true }

func isTransient(err error) bool { return errors.Is(err, errTransient) }
