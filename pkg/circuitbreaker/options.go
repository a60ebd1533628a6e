package circuitbreaker

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	defaultFailureThreshold  = 5
	defaultRecoveryTimeout   = 60 * time.Second
	defaultHalfOpenMaxCalls  = 3
	defaultTimeout           = 10 * time.Second
	defaultMonitoringPeriod  = 5 * time.Minute
	defaultExpectedErrorRate = 50.0
)

type Options struct {
	// Failures accumulated in CLOSED before the breaker opens. Successes in
	// CLOSED decay the count by one rather than resetting it.
	FailureThreshold int
	// How long OPEN must last before the next call may probe.
	RecoveryTimeout time.Duration
	// Concurrent probe budget while HALF_OPEN.
	HalfOpenMaxCalls int
	// Per-call deadline applied by Execute.
	Timeout time.Duration
	// Window over which the error rate is computed for health reporting.
	MonitoringPeriod time.Duration
	// Error-rate percentage above which diagnostics flag the dependency.
	// Reporting only, never an input to state transitions.
	ExpectedErrorRate float64
	// Time source, overridable in tests. Defaults to time.Now.
	Clock func() time.Time
}

func DefaultOptions() Options {
	return Options{
		FailureThreshold:  defaultFailureThreshold,
		RecoveryTimeout:   defaultRecoveryTimeout,
		HalfOpenMaxCalls:  defaultHalfOpenMaxCalls,
		Timeout:           defaultTimeout,
		MonitoringPeriod:  defaultMonitoringPeriod,
		ExpectedErrorRate: defaultExpectedErrorRate,
	}
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&o.RecoveryTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.HalfOpenMaxCalls, validation.Required, validation.Min(1)),
		validation.Field(&o.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.MonitoringPeriod, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.ExpectedErrorRate, validation.Min(0.0), validation.Max(100.0)),
	)
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}
