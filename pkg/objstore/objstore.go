// Package objstore abstracts the object storage the pipeline reads from and writes to.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

var (
	// ErrBucketNotFound is returned when a required bucket does not exist.
	ErrBucketNotFound = errors.New("bucket does not exist")
	// ErrObjectNotFound is returned when reading an object that does not exist.
	ErrObjectNotFound = errors.New("object does not exist")
)

// readChunkSize is the size of the pieces GetObject hands to its callback.
const readChunkSize = 64 * 1024

// Client is a connection to an object storage service.
type Client interface {
	BucketExists(ctx context.Context, name string) (bool, error)
	CreateBucket(ctx context.Context, name string) error
	Bucket(name string) Bucket
}

// Bucket gives access to the objects of one bucket. Implementations are safe for concurrent use.
type Bucket interface {
	Name() string
	ObjectExists(ctx context.Context, key string) (bool, error)
	// GetObject streams the object to fn in order, one piece at a time.
	GetObject(ctx context.Context, key string, fn func([]byte) error) error
	// PutObject stores size bytes from r under key. A negative size means unknown.
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// ListObjects calls fn for each key under prefix.
	ListObjects(ctx context.Context, prefix string, fn func(key string) error) error
	DeleteObject(ctx context.Context, key string) error
}

// EnsureBucket checks that name exists, creating it when autoCreate is set.
func EnsureBucket(ctx context.Context, client Client, name string, autoCreate bool, logger zerolog.Logger) error {
	exists, err := client.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if !autoCreate {
		return fmt.Errorf("%w: bucket = %s", ErrBucketNotFound, name)
	}
	logger.Info().Str("bucket", name).Msg("Creating bucket.")
	if err := client.CreateBucket(ctx, name); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return nil
}

// streamChunks reads r to the end, passing each piece to fn.
func streamChunks(r io.Reader, fn func([]byte) error) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if cbErr := fn(buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
