// Package kv defines the key-value store contract the resilience core uses
// for state shared across process instances: idempotency records and,
// optionally, rate-limit counters. The store is referenced, never owned.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetIfAbsent atomically writes value under key with the given TTL if and
	// only if the key does not exist. Returns true if the write won.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set writes value under key unconditionally with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Increment atomically increments the integer stored under key and
	// returns the new value. A missing key counts from zero.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets or refreshes the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
