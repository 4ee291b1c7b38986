package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// ====================================================================================
// This file defines a set of interfaces to abstract the Google Cloud Storage client,
// so the GCS bucket can be tested without a real GCS client.
// ====================================================================================

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error
	Objects(ctx context.Context, q *storage.Query) GCSObjectIterator
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) GCSWriter
	Delete(ctx context.Context) error
}

// GCSWriter abstracts a *storage.Writer.
type GCSWriter interface {
	io.WriteCloser
	SetContentType(contentType string)
}

// GCSObjectIterator abstracts a *storage.ObjectIterator. Next returns iterator.Done at the end.
type GCSObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes the concrete *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

func (a *gcsBucketHandleAdapter) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	return a.handle.Attrs(ctx)
}

func (a *gcsBucketHandleAdapter) Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error {
	return a.handle.Create(ctx, projectID, attrs)
}

func (a *gcsBucketHandleAdapter) Objects(ctx context.Context, q *storage.Query) GCSObjectIterator {
	return a.handle.Objects(ctx, q)
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return a.handle.Attrs(ctx)
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	return &gcsWriterAdapter{Writer: a.handle.NewWriter(ctx)}
}

func (a *gcsObjectHandleAdapter) Delete(ctx context.Context) error {
	return a.handle.Delete(ctx)
}

type gcsWriterAdapter struct {
	*storage.Writer
}

func (w *gcsWriterAdapter) SetContentType(contentType string) {
	w.ContentType = contentType
}

// --- Client implementation ---

// GCSObjectClient is a Client backed by Google Cloud Storage.
type GCSObjectClient struct {
	client    GCSClient
	projectID string
	logger    zerolog.Logger
}

// NewGCSClient wraps client. projectID is only needed to create buckets.
func NewGCSClient(client GCSClient, projectID string, logger zerolog.Logger) (*GCSObjectClient, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	return &GCSObjectClient{
		client:    client,
		projectID: projectID,
		logger:    logger.With().Str("component", "GCSObjectClient").Logger(),
	}, nil
}

func (c *GCSObjectClient) BucketExists(ctx context.Context, name string) (bool, error) {
	_, err := c.client.Bucket(name).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *GCSObjectClient) CreateBucket(ctx context.Context, name string) error {
	if c.projectID == "" {
		return errors.New("GCS project ID is required to create a bucket")
	}
	return c.client.Bucket(name).Create(ctx, c.projectID, nil)
}

func (c *GCSObjectClient) Bucket(name string) Bucket {
	return &gcsBucket{handle: c.client.Bucket(name), name: name, logger: c.logger.With().Str("bucket", name).Logger()}
}

type gcsBucket struct {
	handle GCSBucketHandle
	name   string
	logger zerolog.Logger
}

func (b *gcsBucket) Name() string { return b.name }

func (b *gcsBucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.handle.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat GCS object %s: %w", key, err)
	}
	return true, nil
}

func (b *gcsBucket) GetObject(ctx context.Context, key string, fn func([]byte) error) error {
	r, err := b.handle.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	if err := streamChunks(r, fn); err != nil {
		return fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	return nil
}

func (b *gcsBucket) PutObject(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	w := b.handle.Object(key).NewWriter(ctx)
	w.SetContentType(contentType)
	written, copyErr := io.Copy(w, r)
	// Close finalizes the upload.
	closeErr := w.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", key, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", key, closeErr)
	}
	b.logger.Debug().Str("key", key).Int64("bytes_written", written).Msg("Put object.")
	return nil
}

func (b *gcsBucket) ListObjects(ctx context.Context, prefix string, fn func(string) error) error {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list GCS objects under %q: %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (b *gcsBucket) DeleteObject(ctx context.Context, key string) error {
	err := b.handle.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", key, err)
	}
	return nil
}
