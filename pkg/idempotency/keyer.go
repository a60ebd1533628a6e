package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const keyPrefix = "idem:"

// NewKey derives a stable store key from the dependency resource, the logical
// operation name and the caller-supplied business identifier. Identical
// inputs always hash to the same key, across processes.
func NewKey(resource, operation, businessKey string) string {
	return hash(resource, operation, businessKey)
}

// DailyKey adds a coarse UTC date bucket for time-bounded idempotency, e.g.
// "don't reprocess the same webhook event twice today".
func DailyKey(resource, operation, businessKey string, at time.Time) string {
	return hash(resource, operation, businessKey, at.UTC().Format(time.DateOnly))
}

func hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return keyPrefix + hex.EncodeToString(sum[:])
}
