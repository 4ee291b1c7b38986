package cache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Fetch for a key that holds no value.
var ErrNotFound = errors.New("key not found in presence cache")

// PresenceCache manages ephemeral state that has no persistent source of truth to fall back
// on, such as the per-chunk key context of an in-flight write. Values must be set and deleted
// explicitly.
type PresenceCache[K comparable, V any] interface {
	// Set stores a value for a key, replacing any previous value.
	Set(ctx context.Context, key K, value V) error
	// SetIfAbsent stores value only when key is empty and returns the value now held for key.
	SetIfAbsent(ctx context.Context, key K, value V) (V, error)
	// Fetch retrieves a value by its key, returning ErrNotFound on a miss.
	Fetch(ctx context.Context, key K) (V, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key K) error
	io.Closer
}
