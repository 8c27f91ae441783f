package services

import (
	"context"
	"time"
)

// callWithTimeout bounds one external call. A zero d leaves ctx as is.
func callWithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}
