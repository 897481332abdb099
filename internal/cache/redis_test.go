package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, _ := testRedisCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := testRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 50*time.Millisecond))
	mr.FastForward(time.Second)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisCacheDeletePrefix(t *testing.T) {
	c, _ := testRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "memory_ctx:proj-a:block", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "memory_ctx:proj-a:other", []byte("y"), time.Minute))
	require.NoError(t, c.Set(ctx, "memory_ctx:proj-b:block", []byte("z"), time.Minute))

	require.NoError(t, c.DeletePrefix(ctx, "memory_ctx:proj-a:"))

	_, err := c.Get(ctx, "memory_ctx:proj-a:block")
	require.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "memory_ctx:proj-b:block")
	require.NoError(t, err, "other project's key must survive")
}

func TestRedisCacheErrMissDistinctFromFailure(t *testing.T) {
	c, mr := testRedisCache(t)
	ctx := context.Background()

	mr.Close()
	_, err := c.Get(ctx, "k")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrMiss), "connection failure must not read as a miss")
}
