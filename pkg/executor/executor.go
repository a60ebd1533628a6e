// Package executor composes the resilience layers every outbound call site
// goes through: rate limiting, idempotency, circuit breaking, deadline
// guarding and retries, in that order from the outside in. One executor
// instance guards one downstream dependency.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/replyflow/resilience-service/pkg/circuitbreaker"
	"github.com/replyflow/resilience-service/pkg/idempotency"
	"github.com/replyflow/resilience-service/pkg/ratelimit"
	"github.com/replyflow/resilience-service/pkg/retry"
	"github.com/replyflow/resilience-service/pkg/timeout"
)

// Limiter admits or rejects a call for a resource. Both the in-process and
// the store-shared fixed-window limiters satisfy it.
type Limiter interface {
	Acquire(ctx context.Context, resource string) error
}

// Request carries one outbound call through Execute.
type Request struct {
	// Stable business key for at-most-once execution. Empty skips the
	// idempotency guard, e.g. for read-only calls.
	IdempotencyKey string
	Operation      func(ctx context.Context) (any, error)
	// Optional degraded-path alternative; runs outside the breaker.
	Fallback func(ctx context.Context) (any, error)
}

// Deps are the collaborators an executor shares with the rest of the
// process. A nil Limiter gets an in-process one built from the options; a nil
// Guard disables idempotency entirely.
type Deps struct {
	Limiter Limiter
	Guard   *idempotency.Guard
	Logger  *slog.Logger
}

type Executor struct {
	opts    Options
	breaker *circuitbreaker.Breaker
	limiter Limiter
	guard   *idempotency.Guard
	logger  *slog.Logger
	tracer  trace.Tracer
}

func New(opts Options, deps Deps) (*Executor, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor options for %q: %w", opts.Resource, err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "executor"), slog.String("resource", opts.Resource))

	breaker, err := circuitbreaker.New(opts.Resource, opts.Breaker, logger)
	if err != nil {
		return nil, err
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter, err = ratelimit.NewLimiter(opts.RateLimit)
		if err != nil {
			return nil, err
		}
	}

	return &Executor{
		opts:    opts,
		breaker: breaker,
		limiter: limiter,
		guard:   deps.Guard,
		logger:  logger,
		tracer:  otel.Tracer("github.com/replyflow/resilience-service/pkg/executor"),
	}, nil
}

func (e *Executor) Resource() string {
	return e.opts.Resource
}

// Execute runs one outbound call through the full resilience stack and
// always returns an Outcome; callers branch on Outcome.Success, never on a
// raised error.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "executor.Execute",
		trace.WithAttributes(
			attribute.String("resilience.resource", e.opts.Resource),
			attribute.Bool("resilience.idempotent", req.IdempotencyKey != ""),
		),
	)
	defer span.End()

	outcome := e.execute(ctx, req)
	outcome.State = e.breaker.State()
	outcome.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.String("resilience.state", outcome.State.String()),
		attribute.Bool("resilience.fallback_used", outcome.FallbackUsed),
		attribute.Bool("resilience.replayed", outcome.Replayed),
	)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "call failed")
	}

	return outcome
}

func (e *Executor) execute(ctx context.Context, req Request) Outcome {
	if err := e.limiter.Acquire(ctx, e.opts.Resource); err != nil {
		e.logger.WarnContext(ctx, "call rejected by rate limiter", "err", err)
		return Outcome{Err: err}
	}

	value, replayed, err := e.runGuarded(ctx, req)
	if err == nil {
		return Outcome{Success: true, Result: value, Replayed: replayed}
	}

	if req.Fallback != nil {
		fbValue, fbErr := req.Fallback(ctx)
		if fbErr != nil {
			return Outcome{
				FallbackUsed:     true,
				Err:              &FallbackError{Primary: err, Fallback: fbErr},
				CircuitOpenSince: openSince(err),
			}
		}
		return Outcome{Success: true, Result: fbValue, FallbackUsed: true}
	}

	return Outcome{Err: err, CircuitOpenSince: openSince(err)}
}

// runGuarded routes the protected call through the idempotency guard when a
// key is supplied. Only the primary path is recorded; fallback results are
// degraded values and must not be replayed to later duplicates.
func (e *Executor) runGuarded(ctx context.Context, req Request) (any, bool, error) {
	if e.guard == nil || req.IdempotencyKey == "" {
		value, err := e.protect(ctx, req.Operation)
		return value, false, err
	}

	return e.guard.RunOnce(ctx, req.IdempotencyKey, func(ctx context.Context) (any, error) {
		return e.protect(ctx, req.Operation)
	})
}

// protect runs the operation behind breaker admission, the per-call deadline
// and the retry loop. Every attempt is individually admitted by and reported
// to the breaker: a dependency that needs retries is a dependency that is
// struggling, and the breaker should see that.
//
// Every admitted slot is settled exactly once: by the attempt's own
// success/failure report, by the executor recording the deadline as the
// call's single failure, or by handing the slot back on cancellation. The
// held flag is the settlement token; the attempt goroutine and the outer
// error path swap on it so an abandoned attempt can never double-report or
// strand a half-open probe slot.
func (e *Executor) protect(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	if err := e.breaker.Acquire(); err != nil {
		return nil, err
	}

	var held atomic.Bool
	held.Store(true)

	value, err := timeout.Within(ctx, e.opts.Breaker.Timeout, func(ctx context.Context) (any, error) {
		return retry.Do(ctx, e.retryPolicy(), func(ctx context.Context, attempt int) (any, error) {
			if !held.Load() {
				if err := e.breaker.Acquire(); err != nil {
					return nil, err
				}
				held.Store(true)
			}

			start := time.Now()
			result, opErr := op(ctx)
			elapsed := time.Since(start)

			switch ctxErr := ctx.Err(); {
			case ctxErr == nil:
			case errors.Is(ctxErr, context.Canceled):
				// The caller walked away mid-attempt; the result says nothing
				// about the dependency. Hand the slot back instead of
				// recording an outcome.
				if held.CompareAndSwap(true, false) {
					e.breaker.Release()
				}
				return nil, ctxErr
			default:
				// Deadline fired; the outer path records the timeout as the
				// call's single failure. Reporting here too would
				// double-count.
				return nil, ctxErr
			}

			if opErr != nil {
				held.Store(false)
				e.breaker.OnFailure(elapsed)
				return nil, opErr
			}

			held.Store(false)
			e.breaker.OnSuccess(elapsed)
			return result, nil
		})
	})

	if err != nil {
		var timeoutErr *timeout.Error
		switch {
		case errors.As(err, &timeoutErr):
			// A timed-out call counts as one failure for transition purposes
			// even though the operation may still finish in the background.
			// Skipped when the last attempt already reported before the
			// deadline fired, e.g. during a backoff sleep.
			if held.CompareAndSwap(true, false) {
				e.breaker.OnFailure(timeoutErr.Timeout)
			}
		case errors.Is(err, context.DeadlineExceeded):
			// The caller's own deadline expired mid-call; same accounting as
			// the executor's timeout.
			if held.CompareAndSwap(true, false) {
				e.breaker.OnFailure(e.opts.Breaker.Timeout)
			}
		case errors.Is(err, context.Canceled):
			if held.CompareAndSwap(true, false) {
				e.breaker.Release()
			}
		}
		return nil, err
	}

	return value, nil
}

// retryPolicy layers the breaker's rejections into the caller's classifier:
// an open circuit is always terminal, no attempt budget is worth spending on
// it.
func (e *Executor) retryPolicy() retry.Policy {
	policy := e.opts.Retry
	callerClassifier := policy.Retryable

	policy.Retryable = func(err error) bool {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return false
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		if callerClassifier != nil {
			return callerClassifier(err)
		}
		return true
	}

	return policy
}

func openSince(err error) time.Time {
	var openErr *circuitbreaker.OpenError
	if errors.As(err, &openErr) {
		return openErr.OpenSince
	}
	return time.Time{}
}

// Stats exposes the guarded dependency's breaker counters.
func (e *Executor) Stats() circuitbreaker.Stats {
	return e.breaker.Stats()
}

// Diagnostics produces the advisory health summary for this dependency.
func (e *Executor) Diagnostics() circuitbreaker.Diagnostics {
	return e.breaker.Diagnostics()
}

func (e *Executor) Reset()           { e.breaker.Reset() }
func (e *Executor) ForceOpen()       { e.breaker.ForceOpen() }
func (e *Executor) ForceClose()      { e.breaker.ForceClose() }
func (e *Executor) IsOpen() bool     { return e.breaker.IsOpen() }
func (e *Executor) IsClosed() bool   { return e.breaker.IsClosed() }
func (e *Executor) IsHalfOpen() bool { return e.breaker.IsHalfOpen() }
