//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-ossflow/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisAddr returns the address of the Redis used for integration tests.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("OSSFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OSSFLOW_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisPresenceCache_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	cfg := &cache.RedisConfig{
		Addr:      redisAddr(t),
		CacheTTL:  time.Minute,
		KeyPrefix: "ossflow-test:" + uuid.NewString() + ":",
	}
	c, err := cache.NewRedisPresenceCache[string, keyContext](ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	first := keyContext{HexRandom: "aa", UUID: "one"}
	second := keyContext{HexRandom: "bb", UUID: "two"}

	t.Run("SetIfAbsent keeps the first value", func(t *testing.T) {
		got, err := c.SetIfAbsent(ctx, "chunk-1", first)
		require.NoError(t, err)
		assert.Equal(t, first, got)

		got, err = c.SetIfAbsent(ctx, "chunk-1", second)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	})

	t.Run("Delete then Fetch misses", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "chunk-1"))
		_, err := c.Fetch(ctx, "chunk-1")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("TTL causes key expiration", func(t *testing.T) {
		shortCfg := *cfg
		shortCfg.CacheTTL = 150 * time.Millisecond
		short, err := cache.NewRedisPresenceCache[string, keyContext](ctx, &shortCfg, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = short.Close() })

		require.NoError(t, short.Set(ctx, "ttl-key", first))
		require.Eventually(t, func() bool {
			_, err := short.Fetch(ctx, "ttl-key")
			return err != nil
		}, 2*time.Second, 50*time.Millisecond)
	})
}
