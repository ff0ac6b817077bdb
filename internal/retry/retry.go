// Package retry implements the fixed-delay retry loops used for startup
// inbox listing and email delivery.
package retry

import (
	"context"
	"time"
)

// SleepFunc pauses between attempts. Tests substitute a recording fake.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, pausing delay between attempts. An error for
// which retryable returns false is returned immediately. There is no attempt
// ceiling; cancelling ctx is the only way to stop a persistently failing fn.
func Do(ctx context.Context, delay time.Duration, sleep SleepFunc, retryable func(error) bool, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
