package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResultCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryResultCache()
	c.now = func() time.Time { return now }

	t.Run("miss", func(t *testing.T) {
		got, err := c.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
		now = now.Add(2 * time.Second)
		got, err := c.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))
		now = now.Add(24 * time.Hour)
		got, err := c.Get(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, c.Set(ctx, "", nil, 0))
		_, err := c.Get(ctx, "")
		assert.Error(t, err)
	})
}

func TestRedisResultCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := NewRedisClient(RedisConfig{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	c := NewRedisResultCache(client, "aistudio:test:")
	require.NoError(t, c.Set(ctx, "job_1", []byte(`{"result_url":"x"}`), time.Minute))
	got, err := c.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"result_url":"x"}`), got)

	missing, err := c.Get(ctx, "job_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, c.Health(ctx))
	client.Del(ctx, "aistudio:test:job_1")
}
