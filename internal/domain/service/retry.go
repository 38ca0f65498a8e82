package service

import (
	"context"
	"time"
)

// RetryOnce runs fn and, if it fails, waits backoff and runs it one more time.
// A cancelled ctx stops the wait and returns ctx.Err().
func RetryOnce(ctx context.Context, backoff time.Duration, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if backoff > 0 {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fn(ctx)
}
