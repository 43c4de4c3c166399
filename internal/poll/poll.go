// Package poll provides the single waiting primitive used wherever the
// automation has to suspend until the page reaches some state.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a condition was not met before its deadline.
var ErrTimeout = errors.New("poll: condition not met before deadline")

// Condition reports whether the awaited state has been reached. A non-nil
// error aborts the poll and is returned as is.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then once per interval until it reports
// true, the timeout elapses, or ctx is done. The condition receives a context
// bounded by the same deadline.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(pollCtx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-pollCtx.Done():
			// Distinguish our own deadline from the caller giving up.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Retry evaluates cond up to attempts times, sleeping interval between
// evaluations. It is the bounded-retries form of Until.
func Retry(ctx context.Context, attempts int, interval time.Duration, cond Condition) error {
	if attempts < 1 {
		attempts = 1
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrTimeout
}
