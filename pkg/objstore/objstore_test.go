package objstore_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/illmade-knight/go-ossflow/pkg/objstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("existing bucket", func(t *testing.T) {
		client := objstore.NewMemoryClient("logs")
		require.NoError(t, objstore.EnsureBucket(ctx, client, "logs", false, zerolog.Nop()))
	})

	t.Run("missing bucket without auto create", func(t *testing.T) {
		client := objstore.NewMemoryClient()
		err := objstore.EnsureBucket(ctx, client, "logs", false, zerolog.Nop())
		require.ErrorIs(t, err, objstore.ErrBucketNotFound)
	})

	t.Run("missing bucket with auto create", func(t *testing.T) {
		client := objstore.NewMemoryClient()
		require.NoError(t, objstore.EnsureBucket(ctx, client, "logs", true, zerolog.Nop()))
		exists, err := client.BucketExists(ctx, "logs")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestMemoryBucket_Lifecycle(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := objstore.NewMemoryClient("logs")
	bucket := client.Bucket("logs")
	payload := bytes.Repeat([]byte("x"), 150*1024)

	// Act
	require.NoError(t, bucket.PutObject(ctx, "a/1.gz", bytes.NewReader(payload), int64(len(payload)), "application/x-gzip"))
	require.NoError(t, bucket.PutObject(ctx, "b/2.gz", strings.NewReader("y"), 1, "application/x-gzip"))

	// Assert
	exists, err := bucket.ObjectExists(ctx, "a/1.gz")
	require.NoError(t, err)
	assert.True(t, exists)

	var got bytes.Buffer
	pieces := 0
	require.NoError(t, bucket.GetObject(ctx, "a/1.gz", func(p []byte) error {
		pieces++
		got.Write(p)
		return nil
	}))
	assert.Equal(t, payload, got.Bytes())
	assert.Greater(t, pieces, 1, "large objects are delivered in pieces")

	var keys []string
	require.NoError(t, bucket.ListObjects(ctx, "a/", func(k string) error {
		keys = append(keys, k)
		return nil
	}))
	assert.Equal(t, []string{"a/1.gz"}, keys)
	assert.Equal(t, "application/x-gzip", client.Objects("logs")["a/1.gz"].ContentType)

	require.NoError(t, bucket.DeleteObject(ctx, "a/1.gz"))
	exists, err = bucket.ObjectExists(ctx, "a/1.gz")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryBucket_Errors(t *testing.T) {
	ctx := context.Background()
	client := objstore.NewMemoryClient("logs")

	err := client.Bucket("logs").GetObject(ctx, "missing", func([]byte) error { return nil })
	require.ErrorIs(t, err, objstore.ErrObjectNotFound)

	_, err = client.Bucket("other").ObjectExists(ctx, "k")
	require.ErrorIs(t, err, objstore.ErrBucketNotFound)

	boom := errors.New("boom")
	require.NoError(t, client.Bucket("logs").PutObject(ctx, "k", strings.NewReader("v"), 1, ""))
	err = client.Bucket("logs").GetObject(ctx, "k", func([]byte) error { return boom })
	require.ErrorIs(t, err, boom)
}
