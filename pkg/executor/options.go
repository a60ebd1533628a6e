package executor

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/replyflow/resilience-service/pkg/circuitbreaker"
	"github.com/replyflow/resilience-service/pkg/idempotency"
	"github.com/replyflow/resilience-service/pkg/ratelimit"
	"github.com/replyflow/resilience-service/pkg/retry"
)

// Options is the fully-specified configuration of one executor. Every field
// is filled by DefaultOptions and validated once at construction; there is no
// partial-options merging at call time.
type Options struct {
	// Name of the downstream dependency this executor guards, e.g.
	// "manychat" or "instagram-graph". One executor per dependency.
	Resource string

	Breaker     circuitbreaker.Options
	RateLimit   ratelimit.Options
	Retry       retry.Policy
	Idempotency idempotency.Options
}

func DefaultOptions(resource string) Options {
	return Options{
		Resource:    resource,
		Breaker:     circuitbreaker.DefaultOptions(),
		RateLimit:   ratelimit.DefaultOptions(),
		Retry:       retry.DefaultPolicy(),
		Idempotency: idempotency.DefaultOptions(),
	}
}

func (o Options) Validate() error {
	if err := validation.ValidateStruct(&o,
		validation.Field(&o.Resource, validation.Required),
	); err != nil {
		return err
	}

	if err := o.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := o.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if err := o.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := o.Idempotency.Validate(); err != nil {
		return fmt.Errorf("idempotency: %w", err)
	}

	return nil
}
