// Package testutil provides helpers for tests that wait on engines driven
// from other goroutines: polling with a bounded timeout, and a managed
// goja_nodejs event loop.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// ErrTimeout is returned by Poll and WaitForState when the threshold elapses
// before the condition holds.
var ErrTimeout = errors.New("testutil: timeout")

// Poll calls condition every interval until it returns true, ctx is done or
// timeout elapses. The condition is always checked at least once.
func Poll(ctx context.Context, condition func() bool, timeout time.Duration, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w waiting for condition (threshold: %v)", ErrTimeout, timeout)
	}
	return err
}

// WaitForState polls getter until predicate accepts its value, returning that
// value. On timeout or cancellation the zero value is returned.
//
//	res, err := WaitForState(ctx, func() flow.RunResult { return last },
//		func(r flow.RunResult) bool { return r == flow.Success },
//		5*time.Second, time.Millisecond)
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout time.Duration, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var zero T
	for {
		if state := getter(); predicate(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			return zero, fmt.Errorf("%w waiting for target state (type %T, threshold: %v)", ErrTimeout, zero, timeout)
		case <-ticker.C:
		}
	}
}

// Context returns a context cancelled after timeout or when the test ends.
func Context(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
