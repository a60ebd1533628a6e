package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is the sentinel for every rejection that never reached the
// downstream dependency. OpenError and BudgetError both wrap it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError rejects a call while the breaker is OPEN and not yet eligible for
// probing.
type OpenError struct {
	Name string
	// When the breaker entered OPEN.
	OpenSince time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open since %s", e.Name, e.OpenSince.Format(time.RFC3339))
}

func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}

// BudgetError rejects a call when all HALF_OPEN probe slots are taken.
type BudgetError struct {
	Name     string
	MaxCalls int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("circuit breaker %s half-open probe budget of %d exhausted", e.Name, e.MaxCalls)
}

func (e *BudgetError) Unwrap() error {
	return ErrCircuitOpen
}
