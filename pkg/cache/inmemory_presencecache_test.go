// Package cache_test provides tests for the cache implementations.
package cache_test

import (
	"context"
	"sync"
	"testing"

	"github.com/illmade-knight/go-ossflow/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyContext struct {
	HexRandom string `json:"hexRandom"`
	UUID      string `json:"uuid"`
}

func TestInMemoryPresenceCache(t *testing.T) {
	ctx := context.Background()
	const testKey = "chunk:0a1b"
	testValue := keyContext{HexRandom: "b1a0", UUID: "5f0c"}

	// Arrange
	c := cache.NewInMemoryPresenceCache[string, keyContext]()

	t.Run("Fetch miss", func(t *testing.T) {
		_, err := c.Fetch(ctx, "non-existent-key")
		require.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Set, Fetch, and Delete cycle", func(t *testing.T) {
		// Act
		require.NoError(t, c.Set(ctx, testKey, testValue))

		// Assert
		retrieved, err := c.Fetch(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testValue, retrieved)

		require.NoError(t, c.Delete(ctx, testKey))
		_, err = c.Fetch(ctx, testKey)
		require.ErrorIs(t, err, cache.ErrNotFound)
		assert.Zero(t, c.Len())
	})
}

func TestInMemoryPresenceCache_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryPresenceCache[string, keyContext]()

	var wg sync.WaitGroup
	results := make([]keyContext, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.SetIfAbsent(ctx, "chunk", keyContext{UUID: string(rune('a' + i))})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r, "every caller must observe the first stored value")
	}
	assert.Equal(t, 1, c.Len())
}
