// Package retry re-invokes failed operations with exponential backoff. An
// error classifier decides whether a failure is worth another attempt;
// terminal errors abort immediately without consuming the budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
	defaultMaxDelay    = 10 * time.Second
)

// Classifier reports whether an error should be retried. A nil classifier
// treats every error as retryable.
type Classifier func(err error) bool

// Policy defines the retry budget and backoff schedule.
type Policy struct {
	// Total invocation budget, first attempt included.
	MaxAttempts int
	// Delay before the second attempt; doubles on every attempt after that.
	BaseDelay time.Duration
	// Upper bound on a single backoff delay.
	MaxDelay time.Duration
	// Decides retryable vs terminal errors.
	Retryable Classifier
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&p.BaseDelay, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.MaxDelay, validation.Min(p.BaseDelay)),
	)
}

// ExhaustedError wraps the last underlying error once MaxAttempts have been
// consumed, so callers can tell "gave up after N tries" apart from "never
// retryable in the first place".
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Delay returns the backoff before the given 1-indexed attempt, following
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	delay := p.BaseDelay << (attempt - 1)
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}

	return delay
}

// Do invokes fn until it succeeds, fails terminally, or the attempt budget
// runs out. Backoff sleeps honor context cancellation; fn is never invoked
// once ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return nil, err
		}

		if attempt == p.MaxAttempts {
			if p.MaxAttempts == 1 {
				// No retry budget was ever available; surface the bare error
				// instead of claiming retries were exhausted.
				return nil, lastErr
			}
			break
		}

		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return nil, lastErr
		}
	}

	return nil, &ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsExhausted reports whether err marks a consumed retry budget.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}
