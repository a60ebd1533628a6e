package idempotency

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the serialized outcome stored under an idempotency key. Written
// once, read many times; concurrent creators race through the store's
// create-if-absent primitive and the first writer wins.
type Record struct {
	// Pending marks the placeholder a winner writes before running the
	// operation. Losers seeing it know the first call is still in flight.
	Pending   bool            `json:"pending,omitempty"`
	Success   bool            `json:"success"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (r Record) marshal() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	return raw, nil
}

func unmarshalRecord(raw []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return r, nil
}

// decode turns a completed record back into the value/error pair the first
// caller observed.
func (r Record) decode() (any, error) {
	if !r.Success {
		return nil, fmt.Errorf("replayed failure: %s", r.Error)
	}

	if len(r.Value) == 0 {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal(r.Value, &value); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record value: %w", err)
	}

	return value, nil
}

func newSuccessRecord(value any, now time.Time) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("failed to serialize operation result: %w", err)
	}

	return Record{
		Success:   true,
		Value:     raw,
		CreatedAt: now,
	}, nil
}

func newFailureRecord(opErr error, now time.Time) Record {
	return Record{
		Success:   false,
		Error:     opErr.Error(),
		CreatedAt: now,
	}
}
