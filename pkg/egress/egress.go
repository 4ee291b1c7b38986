// Package egress compresses buffered record chunks and writes them to object storage under keys
// produced by the key generator.
package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/objstore"
	"github.com/rs/zerolog"
)

// Config holds the write-path settings.
type Config struct {
	// WarnForDelay logs a delayed-write warning when a chunk's time bucket is older than
	// now minus this duration. Zero disables the check.
	WarnForDelay time.Duration
	// TempDir holds the per-write compressed file. Empty means os.TempDir().
	TempDir string
}

// ChunkWriter writes one chunk and reports the key it was stored under.
type ChunkWriter interface {
	Write(ctx context.Context, chunk *Chunk, workerID string) (string, error)
	// Discard drops any state kept for a chunk that will not be written again.
	Discard(ctx context.Context, chunk *Chunk) error
}

// Egress writes chunks to a bucket. Write is safe for concurrent callers holding distinct chunks.
type Egress struct {
	bucket     objstore.Bucket
	keys       *keygen.Generator
	compressor codec.Compressor
	cfg        Config
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates an Egress.
func New(bucket objstore.Bucket, keys *keygen.Generator, compressor codec.Compressor, cfg Config, logger zerolog.Logger) (*Egress, error) {
	if bucket == nil {
		return nil, errors.New("bucket cannot be nil")
	}
	if keys == nil {
		return nil, errors.New("key generator cannot be nil")
	}
	if compressor == nil {
		return nil, errors.New("compressor cannot be nil")
	}
	return &Egress{
		bucket:     bucket,
		keys:       keys,
		compressor: compressor,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With().Str("component", "ObjectEgress").Str("bucket", bucket.Name()).Logger(),
	}, nil
}

// WithClock replaces the clock used for the delayed-write check.
func (e *Egress) WithClock(now func() time.Time) *Egress {
	e.now = now
	return e
}

// Write generates the chunk's key, compresses the chunk into a temporary file and uploads it.
// The chunk's key context is released only when the upload succeeds, so a retried chunk keeps
// its random key components.
func (e *Egress) Write(ctx context.Context, chunk *Chunk, workerID string) (string, error) {
	start := time.Now()
	desc := e.compressor.Descriptor()

	key, err := e.keys.Generate(ctx, chunk.keyChunk(), workerID)
	if err != nil {
		chunkWriteErrors.WithLabelValues("key").Inc()
		if errors.Is(err, keygen.ErrDuplicateKey) {
			e.logger.Error().Err(err).Str("tag", chunk.Tag).Msg("Refusing to overwrite existing object.")
		}
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	tmp, err := os.CreateTemp(e.cfg.TempDir, "ossflow-chunk-*")
	if err != nil {
		chunkWriteErrors.WithLabelValues("compress").Inc()
		return "", fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer func() {
		_ = tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn().Err(rmErr).Str("path", tmp.Name()).Msg("Failed to remove temp file.")
		}
	}()

	if err := e.compressor.Compress(ctx, chunk, tmp); err != nil {
		chunkWriteErrors.WithLabelValues("compress").Inc()
		return "", fmt.Errorf("failed to compress chunk for %s with %s: %w", key, desc.Name, err)
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		chunkWriteErrors.WithLabelValues("compress").Inc()
		return "", fmt.Errorf("failed to size compressed chunk for %s: %w", key, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		chunkWriteErrors.WithLabelValues("compress").Inc()
		return "", fmt.Errorf("failed to rewind compressed chunk for %s: %w", key, err)
	}

	if err := e.bucket.PutObject(ctx, key, tmp, size, desc.ContentType); err != nil {
		chunkWriteErrors.WithLabelValues("upload").Inc()
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	if err := e.keys.Release(ctx, chunk.ID()); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to release key context.")
	}

	chunksWritten.WithLabelValues(chunk.Tag).Inc()
	writeDuration.Observe(time.Since(start).Seconds())
	e.logger.Info().
		Str("key", key).
		Str("tag", chunk.Tag).
		Int("records", chunk.Len()).
		Int64("bytes", size).
		Msg("Chunk written.")

	if e.cfg.WarnForDelay > 0 && !chunk.Timekey.IsZero() && chunk.Timekey.Before(e.now().Add(-e.cfg.WarnForDelay)) {
		delayedWrites.Inc()
		e.logger.Warn().
			Str("key", key).
			Time("timekey", chunk.Timekey).
			Dur("warn_for_delay", e.cfg.WarnForDelay).
			Msg("Outdated chunk written.")
	}
	return key, nil
}

// Discard forgets the key context of a chunk whose write was given up.
func (e *Egress) Discard(ctx context.Context, chunk *Chunk) error {
	if err := e.keys.Release(ctx, chunk.ID()); err != nil {
		return fmt.Errorf("failed to release key context: %w", err)
	}
	return nil
}
