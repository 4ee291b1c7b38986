package cache

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestorePresenceCache is a PresenceCache shared across processes through a Firestore
// collection, for deployments that already run on Google Cloud without a Redis instance.
// V must be a struct or map that Firestore can store as a document.
type FirestorePresenceCache[K comparable, V any] struct {
	client     *firestore.Client
	collection string
}

// NewFirestorePresenceCache creates a FirestorePresenceCache over collectionName.
func NewFirestorePresenceCache[K comparable, V any](
	client *firestore.Client,
	collectionName string,
) (*FirestorePresenceCache[K, V], error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collectionName == "" {
		return nil, errors.New("firestore collection name cannot be empty")
	}
	return &FirestorePresenceCache[K, V]{
		client:     client,
		collection: collectionName,
	}, nil
}

func (c *FirestorePresenceCache[K, V]) doc(key K) *firestore.DocumentRef {
	return c.client.Collection(c.collection).Doc(fmt.Sprintf("%v", key))
}

// Set creates or overwrites the document for key.
func (c *FirestorePresenceCache[K, V]) Set(ctx context.Context, key K, value V) error {
	if _, err := c.doc(key).Set(ctx, value); err != nil {
		return fmt.Errorf("failed to set presence in firestore for key %v: %w", key, err)
	}
	return nil
}

// SetIfAbsent relies on Create failing with AlreadyExists, so concurrent writers agree on the
// first document stored.
func (c *FirestorePresenceCache[K, V]) SetIfAbsent(ctx context.Context, key K, value V) (V, error) {
	var zero V
	_, err := c.doc(key).Create(ctx, value)
	if err == nil {
		return value, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return zero, fmt.Errorf("firestore create failed for key %v: %w", key, err)
	}
	return c.Fetch(ctx, key)
}

// Fetch retrieves the document for key and maps it to V.
func (c *FirestorePresenceCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	snap, err := c.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, fmt.Errorf("%w: '%v'", ErrNotFound, key)
		}
		return zero, fmt.Errorf("firestore get failed for key %v: %w", key, err)
	}
	var value V
	if err := snap.DataTo(&value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal presence data for key %v: %w", key, err)
	}
	return value, nil
}

// Delete removes the document for key.
func (c *FirestorePresenceCache[K, V]) Delete(ctx context.Context, key K) error {
	if _, err := c.doc(key).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore delete failed for key %v: %w", key, err)
	}
	return nil
}

// Close is a no-op; the Firestore client's lifecycle is managed by whoever created it.
func (c *FirestorePresenceCache[K, V]) Close() error {
	return nil
}
