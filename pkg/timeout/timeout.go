// Package timeout races an operation against a deadline. An operation that
// loses the race is abandoned: it keeps running on its own goroutine until it
// finishes, but its result is discarded and never delivered to the caller.
package timeout

import (
	"context"
	"fmt"
	"time"
)

// Error reports that an operation exceeded its configured deadline.
type Error struct {
	// The deadline the operation was given.
	Timeout time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

type result struct {
	value any
	err   error
}

// Within runs fn and returns its result unless d elapses first, in which case
// it returns a *Error. fn receives a context whose deadline is d from now, so
// cooperative operations can stop early; non-cooperative ones run to
// completion in the background with their result dropped.
func Within(ctx context.Context, d time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	opCtx, cancel := context.WithTimeout(ctx, d)

	// Buffered so the abandoned goroutine never blocks on delivery.
	done := make(chan result, 1)

	go func() {
		value, err := fn(opCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		cancel()
		return res.value, res.err
	case <-opCtx.Done():
		// Drain the abandoned goroutine's result in the background so its
		// send never blocks, then release the timer.
		go func() {
			<-done
			cancel()
		}()
		if err := ctx.Err(); err != nil {
			// Caller cancellation, not a deadline expiry of our making.
			return nil, err
		}
		return nil, &Error{Timeout: d}
	}
}
