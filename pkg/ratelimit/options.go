package ratelimit

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Policy decides what happens to a caller that hits the window limit.
type Policy int

const (
	// PolicyReject fails the acquire immediately with a *LimitError.
	PolicyReject Policy = iota
	// PolicyWait blocks the caller until the window rolls over.
	PolicyWait
)

var policyName = map[Policy]string{
	PolicyReject: "REJECT",
	PolicyWait:   "WAIT",
}

func (p Policy) String() string {
	return policyName[p]
}

const (
	defaultLimit  = 25
	defaultWindow = time.Second
)

type Options struct {
	// Calls admitted per resource per window.
	Limit int
	// Fixed window size; counters are keyed by floor(now / Window).
	Window time.Duration
	// Behaviour at the limit.
	Policy Policy
	// Time source, overridable in tests. Defaults to time.Now.
	Clock func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Limit:  defaultLimit,
		Window: defaultWindow,
		Policy: PolicyReject,
		Clock:  time.Now,
	}
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Limit, validation.Required, validation.Min(1)),
		validation.Field(&o.Window, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.Policy, validation.In(PolicyReject, PolicyWait)),
	)
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}
