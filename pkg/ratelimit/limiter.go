// Package ratelimit bounds call rate per logical resource using fixed-window
// counting. The window is approximate on purpose: it admits brief rate
// doubling at boundaries, which is acceptable for protecting third-party
// quotas that themselves use coarse windows.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LimitError reports a rejected acquire under PolicyReject.
type LimitError struct {
	Resource string
	// Time remaining until the current window rolls over.
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %s", e.Resource, e.RetryAfter)
}

type window struct {
	start time.Time
	count int
}

// Limiter is the in-process fixed-window limiter. Windows are created lazily
// on first call in a bucket and pruned opportunistically once their bucket is
// in the past.
type Limiter struct {
	opts Options

	mu      sync.Mutex
	windows map[string]*window
}

func NewLimiter(opts Options) (*Limiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit options: %w", err)
	}

	return &Limiter{
		opts:    opts,
		windows: make(map[string]*window),
	}, nil
}

// Acquire admits the call, rejects it, or blocks until the next window
// depending on the configured policy. The lock is never held across a wait.
func (l *Limiter) Acquire(ctx context.Context, resource string) error {
	for {
		wait, err := l.tryAcquire(resource)
		if err == nil && wait == 0 {
			return nil
		}
		if err != nil {
			return err
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire returns (0, nil) on admission, (wait, nil) when the caller
// should block for wait under PolicyWait, or a *LimitError under PolicyReject.
func (l *Limiter) tryAcquire(resource string) (time.Duration, error) {
	now := l.opts.now()
	bucket := now.Truncate(l.opts.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(bucket)

	w := l.windows[resource]
	if w == nil || w.start.Before(bucket) {
		w = &window{start: bucket}
		l.windows[resource] = w
	}

	if w.count < l.opts.Limit {
		w.count++
		return 0, nil
	}

	remaining := bucket.Add(l.opts.Window).Sub(now)
	if l.opts.Policy == PolicyWait {
		return remaining, nil
	}

	return 0, &LimitError{Resource: resource, RetryAfter: remaining}
}

// prune drops windows strictly older than the previous bucket. Caller holds
// the lock.
func (l *Limiter) prune(bucket time.Time) {
	previous := bucket.Add(-l.opts.Window)
	for resource, w := range l.windows {
		if w.start.Before(previous) {
			delete(l.windows, resource)
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
