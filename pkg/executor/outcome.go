package executor

import (
	"fmt"
	"time"

	"github.com/replyflow/resilience-service/pkg/circuitbreaker"
)

// Outcome is the uniform result of Execute. Expected, recoverable conditions
// (open circuit, exhausted retries, failed fallback) live in Err and Success;
// nothing is ever panicked or thrown past the Execute boundary.
type Outcome struct {
	Success      bool
	Result       any
	Err          error
	FallbackUsed bool
	// True when the result was served from an idempotency record instead of
	// executing the operation.
	Replayed bool
	State    circuitbreaker.State
	Elapsed  time.Duration
	// Set when the call was rejected by an open circuit.
	CircuitOpenSince time.Time
}

// FallbackError reports that the fallback itself failed after the primary
// path did not produce a result.
type FallbackError struct {
	Primary  error
	Fallback error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("fallback failed: %v (primary: %v)", e.Fallback, e.Primary)
}

func (e *FallbackError) Unwrap() []error {
	return []error{e.Fallback, e.Primary}
}
