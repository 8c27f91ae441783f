// Package retry holds the one bounded retry schedule used after payment.
//
// A Policy runs an operation up to Attempts times spaced by Delay, then once
// more after DeferredDelay, and then gives up. Every attempt runs under its
// own CallTimeout.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy is safe for concurrent use; it carries no per-run state.
type Policy struct {
	Attempts      int
	Delay         time.Duration
	DeferredDelay time.Duration
	CallTimeout   time.Duration
	// Retryable decides whether a failed attempt is worth repeating.
	Retryable func(error) bool
}

// MaxAttempts is the total number of calls a run can make.
func (p Policy) MaxAttempts() int {
	n := p.Attempts
	if n < 1 {
		n = 1
	}
	if p.DeferredDelay > 0 {
		n++
	}
	return n
}

// Window is the worst-case sleep time of a run, excluding the calls themselves.
func (p Policy) Window() time.Duration {
	n := p.Attempts
	if n < 1 {
		n = 1
	}
	return time.Duration(n-1)*p.Delay + p.DeferredDelay
}

func (p Policy) backoff() retry.Backoff {
	inline := p.Attempts - 1
	if inline < 0 {
		inline = 0
	}
	var calls int
	deferred := p.DeferredDelay > 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		calls++
		if calls <= inline {
			return p.Delay, false
		}
		if calls == inline+1 && deferred {
			return p.DeferredDelay, false
		}
		return 0, true
	})
}

// Do runs fn under the policy and reports how many attempts were made. The
// error of the last attempt is returned unchanged when the budget runs out
// or fn fails with a non-retryable error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := 0

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++

		callCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if p.retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})

	return attempts, err
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return errors.Is(err, context.DeadlineExceeded)
}
