package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, ttl), srv
}

func TestRedisDuplicate(t *testing.T) {
	c, _ := newRedisCache(t, time.Minute)
	ctx := context.Background()
	payload := []byte(`{"x":1}`)

	dup, err := c.IsDuplicate(ctx, payload, "d1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = c.IsDuplicate(ctx, payload, "d1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = c.IsDuplicate(ctx, payload, "d2")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisTTLExpiry(t *testing.T) {
	c, srv := newRedisCache(t, time.Minute)
	ctx := context.Background()
	payload := []byte(`{}`)

	_, err := c.IsDuplicate(ctx, payload, "d1")
	require.NoError(t, err)

	srv.FastForward(2 * time.Minute)

	dup, err := c.IsDuplicate(ctx, payload, "d1")
	require.NoError(t, err)
	assert.False(t, dup, "entry expired with the TTL")
}

func TestRedisStats(t *testing.T) {
	c, _ := newRedisCache(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.IsDuplicate(ctx, []byte{byte(i)}, "d")
		require.NoError(t, err)
	}

	s, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Size)
	assert.Equal(t, int64(60000), s.TTLMs)
}

func TestRedisErrorSurfaces(t *testing.T) {
	c, srv := newRedisCache(t, time.Minute)
	srv.Close()

	_, err := c.IsDuplicate(context.Background(), []byte(`{}`), "d1")
	assert.Error(t, err)
}
