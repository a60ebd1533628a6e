// Package idempotency gives side-effecting operations at-most-once execution
// semantics within a validity window. Webhook retries and racing application
// instances are the expected duplicate sources: the first call executes, all
// others observe its result.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/replyflow/resilience-service/pkg/kv"
)

// ErrDuplicateInFlight reports that another caller holds the key and the
// guard is configured not to wait for its result.
var ErrDuplicateInFlight = errors.New("duplicate request in flight")

const (
	defaultTTL            = 24 * time.Hour
	defaultPlaceholderTTL = 30 * time.Second
	defaultPollInterval   = 50 * time.Millisecond
	defaultWaitBudget     = 2 * time.Second
	defaultLocalCacheSize = 1024
)

type Options struct {
	// Validity window of a completed success record.
	TTL time.Duration
	// Bound on how long a crashed winner can block a key.
	PlaceholderTTL time.Duration
	// When true, a loser polls for the winner's result instead of failing
	// fast with ErrDuplicateInFlight.
	WaitForInFlight bool
	PollInterval    time.Duration
	WaitBudget      time.Duration
	// Size of the in-process read-through cache of completed records.
	LocalCacheSize int
	// Time source, overridable in tests. Defaults to time.Now.
	Clock func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TTL:            defaultTTL,
		PlaceholderTTL: defaultPlaceholderTTL,
		PollInterval:   defaultPollInterval,
		WaitBudget:     defaultWaitBudget,
		LocalCacheSize: defaultLocalCacheSize,
	}
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.PlaceholderTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.PollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&o.WaitBudget, validation.Required, validation.Min(o.PollInterval)),
		validation.Field(&o.LocalCacheSize, validation.Required, validation.Min(1)),
	)
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Guard wraps operations keyed by a stable idempotency key. Same-process
// duplicates collapse through singleflight before a store round trip; cross-
// process duplicates race on the store's create-if-absent write.
type Guard struct {
	store  kv.Store
	opts   Options
	logger *slog.Logger
	group  singleflight.Group
	cache  *lru.Cache[string, Record]
}

func NewGuard(store kv.Store, opts Options, logger *slog.Logger) (*Guard, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid idempotency options: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, Record](opts.LocalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
	}

	return &Guard{
		store:  store,
		opts:   opts,
		logger: logger.With(slog.String("component", "idempotency")),
		cache:  cache,
	}, nil
}

type outcome struct {
	value    any
	replayed bool
}

// RunOnce executes fn at most once for the given key within the TTL.
// Duplicate callers receive the first call's value (replayed=true) decoded
// from its serialized record.
//
// The collapsed execution is shared by every same-process duplicate, so it
// must not die with whichever caller happened to start it: fn runs on a
// context detached from cancellation, and a cancelled caller merely stops
// waiting for the shared result.
func (g *Guard) RunOnce(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		return g.runOnce(context.WithoutCancel(ctx), key, fn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		out := res.Val.(outcome)
		return out.value, out.replayed, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (g *Guard) runOnce(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (outcome, error) {
	if rec, ok := g.cache.Get(key); ok {
		// The local cache has no TTL of its own; honor the validity window.
		if g.opts.now().Sub(rec.CreatedAt) < g.opts.TTL {
			value, err := rec.decode()
			if err != nil {
				return outcome{}, err
			}
			return outcome{value: value, replayed: true}, nil
		}
		g.cache.Remove(key)
	}

	placeholder := Record{Pending: true, CreatedAt: g.opts.now()}
	raw, err := placeholder.marshal()
	if err != nil {
		return outcome{}, err
	}

	won, err := g.store.SetIfAbsent(ctx, key, raw, g.opts.PlaceholderTTL)
	if err != nil {
		// Blind guard: prefer executing over dropping the request, at the
		// cost of at-most-once across instances.
		g.logger.WarnContext(ctx, "idempotency store unavailable, executing without guard", "err", err)
		value, opErr := fn(ctx)
		return outcome{value: value}, opErr
	}

	if won {
		return g.execute(ctx, key, fn)
	}

	return g.awaitWinner(ctx, key)
}

// execute runs the operation as the winning caller and persists its outcome.
func (g *Guard) execute(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (outcome, error) {
	value, opErr := fn(ctx)
	now := g.opts.now()

	if opErr != nil {
		// Failures are recorded with the short placeholder TTL: in-flight
		// duplicates observe the result, but a later redelivery may retry.
		rec := newFailureRecord(opErr, now)
		g.persist(ctx, key, rec, g.opts.PlaceholderTTL)
		return outcome{}, opErr
	}

	rec, err := newSuccessRecord(value, now)
	if err != nil {
		return outcome{}, err
	}

	g.persist(ctx, key, rec, g.opts.TTL)
	g.cache.Add(key, rec)

	return outcome{value: value}, nil
}

func (g *Guard) persist(ctx context.Context, key string, rec Record, ttl time.Duration) {
	raw, err := rec.marshal()
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to serialize idempotency record", "err", err)
		return
	}

	if err := g.store.Set(ctx, key, raw, ttl); err != nil {
		g.logger.WarnContext(ctx, "failed to persist idempotency record", "err", err)
	}
}

// awaitWinner handles the losing side of the create-if-absent race.
func (g *Guard) awaitWinner(ctx context.Context, key string) (outcome, error) {
	deadline := g.opts.now().Add(g.opts.WaitBudget)

	for {
		raw, err := g.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			// Winner's placeholder expired without a record; treat as an
			// in-flight duplicate rather than re-running the side effect.
			return outcome{}, ErrDuplicateInFlight
		}
		if err != nil {
			return outcome{}, err
		}

		rec, err := unmarshalRecord(raw)
		if err != nil {
			return outcome{}, err
		}

		if !rec.Pending {
			if rec.Success {
				g.cache.Add(key, rec)
			}
			value, err := rec.decode()
			if err != nil {
				return outcome{}, err
			}
			return outcome{value: value, replayed: true}, nil
		}

		if !g.opts.WaitForInFlight || !g.opts.now().Before(deadline) {
			return outcome{}, ErrDuplicateInFlight
		}

		if err := sleep(ctx, g.opts.PollInterval); err != nil {
			return outcome{}, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
