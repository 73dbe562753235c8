package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, retention time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, retention, nil), server
}

func TestRedisStore_ClaimCompleteGet(t *testing.T) {
	store, server := newRedisStore(t, time.Hour)
	ctx := context.Background()

	rec, claimed, err := store.Claim(ctx, "create_order:k1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, time.Minute, server.TTL("idempotency:create_order:k1"))

	rec, claimed, err = store.Claim(ctx, "create_order:k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, store.Complete(ctx, "create_order:k1", json.RawMessage(`{"order_id":42}`)))
	assert.Equal(t, time.Hour, server.TTL("idempotency:create_order:k1"))

	rec, err = store.Get(ctx, "create_order:k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsComplete())
	assert.JSONEq(t, `{"order_id":42}`, string(rec.Result))
	assert.NotNil(t, rec.CompletedAt)
}

func TestRedisStore_LeaseExpiryAllowsTakeover(t *testing.T) {
	store, server := newRedisStore(t, 0)
	ctx := context.Background()

	_, claimed, err := store.Claim(ctx, "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	server.FastForward(2 * time.Minute)

	_, claimed, err = store.Claim(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRedisStore_Release(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()

	_, _, err := store.Claim(ctx, "pending", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "pending"))

	rec, err := store.Get(ctx, "pending")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, _, err = store.Claim(ctx, "done", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "done", json.RawMessage(`true`)))
	require.NoError(t, store.Release(ctx, "done"))

	rec, err = store.Get(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsComplete())

	require.NoError(t, store.Release(ctx, "unknown"))
}

func TestRedisStore_WithGuard(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	guard := newTestGuard(store)
	commandID := models.GenerateUUID().String()

	calls := 0
	op := func(context.Context) (*orderResult, error) {
		calls++
		return &orderResult{OrderID: 7}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Execute(context.Background(), guard, commandID, op)
		require.NoError(t, err)
		assert.Equal(t, 7, got.OrderID)
	}
	assert.Equal(t, 1, calls)
}
