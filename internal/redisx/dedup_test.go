package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDedupSeenAndForget(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	d := NewDedup(rdb, "api")

	seen, err := d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, TTLDedup, mr.TTL("dedup:api:evt_1"))

	require.NoError(t, d.Forget(ctx, "evt_1"))
	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedupSurfacesRedisErrors(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	_, err := NewDedup(rdb, "api").Seen(context.Background(), "evt_1")
	assert.Error(t, err)
}

func TestIdempotencyClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	idem := NewIdempotency(rdb)

	_, claimed, err := idem.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, claimed, err = idem.Claim(ctx, "u1", "k1")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.False(t, claimed)

	// Keys are scoped per user.
	_, claimed, err = idem.Claim(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, idem.Complete(ctx, "u1", "k1", "order-1"))
	id, claimed, err := idem.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", id)

	require.NoError(t, idem.Abandon(ctx, "u2", "k1"))
	_, claimed, err = idem.Claim(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestStatusCache(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	c := NewStatusCache(rdb)

	_, ok := c.Get(ctx, "o1")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "o1", []byte(`{"status":"pending"}`)))
	b, ok := c.Get(ctx, "o1")
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"pending"}`, string(b))
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:o1"))

	require.NoError(t, c.Invalidate(ctx, "o1"))
	_, ok = c.Get(ctx, "o1")
	assert.False(t, ok)
}
