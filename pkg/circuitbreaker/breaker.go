// Package circuitbreaker tracks success and failure of calls to one logical
// downstream dependency and sheds load from it while it is failing. One
// breaker instance guards one dependency; state transitions are evaluated
// lazily on access, never by a background timer.
package circuitbreaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/replyflow/resilience-service/pkg/timeout"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateName = map[State]string{
	Closed:   "CLOSED",
	Open:     "OPEN",
	HalfOpen: "HALF_OPEN",
}

func (s State) String() string {
	return stateName[s]
}

// MarshalJSON renders the state by name so API consumers never see the
// internal enum value.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

type sample struct {
	at     time.Time
	failed bool
}

// Breaker is a mutex-guarded state machine. Every admission decision and
// transition happens under the lock; the lock is never held across a call to
// the guarded operation.
type Breaker struct {
	name string
	opts Options

	logger *slog.Logger

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int64
	totalExecutions  int64
	totalExecTime    time.Duration
	lastFailureAt    time.Time
	lastSuccessAt    time.Time
	lastStateChange  time.Time
	openCount        int64
	halfOpenInFlight int
	createdAt        time.Time
	// Cumulative time spent OPEN, excluding any current OPEN stint.
	openElapsed time.Duration
	samples     []sample
}

func New(name string, opts Options, logger *slog.Logger) (*Breaker, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker options: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	now := opts.now()

	return &Breaker{
		name:            name,
		opts:            opts,
		logger:          logger.With(slog.String("component", "circuitbreaker"), slog.String("breaker", name)),
		state:           Closed,
		createdAt:       now,
		lastStateChange: now,
	}, nil
}

func (b *Breaker) Name() string {
	return b.name
}

// Acquire decides whether a call may proceed. In HALF_OPEN it also claims a
// probe slot, which is returned through the matching OnSuccess or OnFailure.
func (b *Breaker) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.now()
	b.refreshLocked(now)

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.halfOpenInFlight < b.opts.HalfOpenMaxCalls {
			b.halfOpenInFlight++
			return nil
		}
		// Probe slots exhausted: same treatment as an OPEN rejection.
		return &BudgetError{Name: b.name, MaxCalls: b.opts.HalfOpenMaxCalls}
	default:
		return &OpenError{Name: b.name, OpenSince: b.lastStateChange}
	}
}

// Release hands back a slot claimed by Acquire when the call ends without an
// outcome to report, e.g. the caller cancelled before the dependency
// answered. The half-open budget bounds concurrent probes; a call that will
// never report must not hold a slot forever.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// OnSuccess records one completed call that succeeded.
func (b *Breaker) OnSuccess(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.now()
	b.refreshLocked(now)
	b.recordLocked(now, elapsed, false)
	b.lastSuccessAt = now
	b.successCount++

	switch b.state {
	case Closed:
		// Decay instead of full reset: isolated blips should not re-arm the
		// breaker from a clean slate.
		if b.failureCount > 0 {
			b.failureCount--
		}
	case HalfOpen:
		b.logger.Info("probe succeeded, closing circuit")
		b.toClosedLocked(now)
	case Open:
		// Late report after another probe already re-opened the circuit; the
		// fresh cool-down stands.
	}
}

// OnFailure records one completed call that failed. Timeouts count here too.
func (b *Breaker) OnFailure(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.opts.now()
	b.refreshLocked(now)
	b.recordLocked(now, elapsed, true)
	b.lastFailureAt = now

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.opts.FailureThreshold {
			b.logger.Warn("failure threshold reached, opening circuit",
				"failures", b.failureCount,
				"threshold", b.opts.FailureThreshold,
			)
			b.toOpenLocked(now)
		}
	case HalfOpen:
		// A single failed probe re-arms the full cool-down immediately.
		b.logger.Warn("probe failed, reopening circuit")
		b.toOpenLocked(now)
	case Open:
	}
}

// Execute runs op behind the breaker with the per-call timeout applied. The
// fallback, when present, is attempted on rejection and on primary failure;
// it runs outside the breaker and never affects its counters.
func (b *Breaker) Execute(ctx context.Context, op, fallback func(ctx context.Context) (any, error)) (any, error) {
	if err := b.Acquire(); err != nil {
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, err
	}

	start := b.opts.now()
	value, err := timeout.Within(ctx, b.opts.Timeout, op)
	elapsed := b.opts.now().Sub(start)

	if err != nil {
		b.OnFailure(elapsed)
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, err
	}

	b.OnSuccess(elapsed)
	return value, nil
}

// refreshLocked performs the lazy OPEN to HALF_OPEN transition once the
// recovery timeout has elapsed. Caller holds the lock.
func (b *Breaker) refreshLocked(now time.Time) {
	if b.state == Open && now.Sub(b.lastStateChange) >= b.opts.RecoveryTimeout {
		b.logger.Info("recovery timeout elapsed, entering half-open")
		b.toHalfOpenLocked(now)
	}
}

func (b *Breaker) recordLocked(now time.Time, elapsed time.Duration, failed bool) {
	b.totalExecutions++
	b.totalExecTime += elapsed

	b.samples = append(b.samples, sample{at: now, failed: failed})
	b.pruneSamplesLocked(now)
}

func (b *Breaker) pruneSamplesLocked(now time.Time) {
	cutoff := now.Add(-b.opts.MonitoringPeriod)
	drop := 0
	for drop < len(b.samples) && b.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.samples = append(b.samples[:0], b.samples[drop:]...)
	}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.accumulateOpenLocked(now)
	b.state = Open
	b.openCount++
	b.halfOpenInFlight = 0
	b.lastStateChange = now
}

func (b *Breaker) toHalfOpenLocked(now time.Time) {
	b.accumulateOpenLocked(now)
	b.state = HalfOpen
	b.halfOpenInFlight = 0
	b.lastStateChange = now
}

func (b *Breaker) toClosedLocked(now time.Time) {
	b.accumulateOpenLocked(now)
	b.state = Closed
	b.failureCount = 0
	b.halfOpenInFlight = 0
	b.lastStateChange = now
}

// accumulateOpenLocked banks the current OPEN stint before leaving the state.
func (b *Breaker) accumulateOpenLocked(now time.Time) {
	if b.state == Open {
		b.openElapsed += now.Sub(b.lastStateChange)
	}
}

// State reports the current state, applying the lazy recovery transition
// first so a status check and a concurrent call agree.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshLocked(b.opts.now())
	return b.state
}

func (b *Breaker) IsOpen() bool {
	return b.State() == Open
}

func (b *Breaker) IsClosed() bool {
	return b.State() == Closed
}

func (b *Breaker) IsHalfOpen() bool {
	return b.State() == HalfOpen
}

// Reset returns the breaker to CLOSED and clears the failure count and the
// monitoring window. Lifetime counters survive.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("circuit breaker reset")
	b.toClosedLocked(b.opts.now())
	b.samples = b.samples[:0]
}

// ForceOpen opens the circuit manually, e.g. ahead of planned downstream
// maintenance.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		return
	}

	b.logger.Warn("circuit breaker forced open")
	b.toOpenLocked(b.opts.now())
}

// ForceClose closes the circuit manually regardless of recent failures.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Warn("circuit breaker forced closed")
	b.toClosedLocked(b.opts.now())
}
