package timeout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin_OperationWins(t *testing.T) {
	got, err := Within(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestWithin_OperationError(t *testing.T) {
	wantErr := errors.New("downstream exploded")

	_, err := Within(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})

	require.ErrorIs(t, err, wantErr)
}

func TestWithin_DeadlineWins(t *testing.T) {
	started := time.Now()

	_, err := Within(context.Background(), 20*time.Millisecond, func(ctx context.Context) (any, error) {
		time.Sleep(500 * time.Millisecond)
		return "too late", nil
	})

	var timeoutErr *Error
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)
	assert.Less(t, time.Since(started), 400*time.Millisecond, "caller must not wait for the abandoned operation")
}

func TestWithin_AbandonedResultIsDiscarded(t *testing.T) {
	var delivered atomic.Int32

	_, err := Within(context.Background(), 10*time.Millisecond, func(ctx context.Context) (any, error) {
		time.Sleep(50 * time.Millisecond)
		delivered.Add(1)
		return "late", nil
	})

	var timeoutErr *Error
	require.ErrorAs(t, err, &timeoutErr)

	// The abandoned operation finishes in the background without a second
	// delivery to the caller.
	assert.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWithin_CallerCancellationIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Within(ctx, time.Second, func(ctx context.Context) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	})

	require.ErrorIs(t, err, context.Canceled)

	var timeoutErr *Error
	assert.False(t, errors.As(err, &timeoutErr))
}
