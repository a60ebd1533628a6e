package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStore(rdb, "test:"), mr
}

func TestRedisStore_GetMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SetThenGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Set(ctx, "record", []byte("payload"), time.Minute)
	require.NoError(t, err)

	val, err := store.Get(ctx, "record")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
}

func TestRedisStore_SetIfAbsent_FirstWriterWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	won, err := store.SetIfAbsent(ctx, "record", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.SetIfAbsent(ctx, "record", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	val, err := store.Get(ctx, "record")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), val)
}

func TestRedisStore_Increment(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRedisStore_ExpireEvictsKey(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "record", []byte("payload"), time.Hour))
	require.NoError(t, store.Expire(ctx, "record", 50*time.Millisecond))

	mr.FastForward(time.Second)

	_, err := store.Get(ctx, "record")
	require.ErrorIs(t, err, ErrNotFound)
}
