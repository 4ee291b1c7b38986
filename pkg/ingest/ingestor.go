// Package ingest polls the notification queue and turns the objects it announces into record
// batches for a downstream sink.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/illmade-knight/go-ossflow/pkg/notification"
	"github.com/illmade-knight/go-ossflow/pkg/objstore"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
)

// IngestorConfig controls batching and pacing of emitted records.
type IngestorConfig struct {
	Tag string
	// FlushBatchLines is the batch size handed to the sink.
	FlushBatchLines int
	// FlushPause is slept after every full batch.
	FlushPause time.Duration
	// TempDir holds locally buffered objects. Empty means os.TempDir().
	TempDir string
}

// Ingestor reads the objects named by change events and emits their records in order.
// It is not safe for concurrent use; one poller drives it.
type Ingestor struct {
	bucket       objstore.Bucket
	decompressor codec.Decompressor
	parser       record.Parser
	sink         Sink
	cfg          IngestorConfig
	sleep        func(time.Duration)
	logger       zerolog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(
	bucket objstore.Bucket,
	decompressor codec.Decompressor,
	parser record.Parser,
	sink Sink,
	cfg IngestorConfig,
	logger zerolog.Logger,
) (*Ingestor, error) {
	if bucket == nil || decompressor == nil || parser == nil || sink == nil {
		return nil, errors.New("ingestor requires a bucket, decompressor, parser and sink")
	}
	if cfg.FlushBatchLines <= 0 {
		cfg.FlushBatchLines = 1000
	}
	if cfg.Tag == "" {
		cfg.Tag = "input.oss"
	}
	return &Ingestor{
		bucket:       bucket,
		decompressor: decompressor,
		parser:       parser,
		sink:         sink,
		cfg:          cfg,
		sleep:        time.Sleep,
		logger:       logger.With().Str("component", "ObjectIngestor").Str("bucket", bucket.Name()).Logger(),
	}, nil
}

// WithSleep replaces the pacing sleep.
func (i *Ingestor) WithSleep(sleep func(time.Duration)) *Ingestor {
	i.sleep = sleep
	return i
}

// Ingest processes events in order. Missing objects and objects that fail to decompress are
// logged and skipped. Storage and sink errors abort the remaining events and are returned.
func (i *Ingestor) Ingest(ctx context.Context, events []notification.ChangeEvent) error {
	for _, ev := range events {
		if err := i.ingestObject(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingestor) ingestObject(ctx context.Context, ev notification.ChangeEvent) error {
	log := i.logger.With().Str("key", ev.Key).Logger()
	log.Info().Int64("size", ev.Size).Str("event", ev.EventName).Msg("Reading object.")

	exists, err := i.bucket.ObjectExists(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("failed to check object %s: %w", ev.Key, err)
	}
	if !exists {
		objectsSkipped.WithLabelValues("missing").Inc()
		log.Warn().Msg("Object does not exist, skipping.")
		return nil
	}

	src, release, err := i.fetch(ctx, ev.Key)
	if err != nil {
		return err
	}
	defer release()

	content, err := i.decompressor.Decompress(ctx, src)
	if err != nil {
		objectsSkipped.WithLabelValues("decompress").Inc()
		log.Warn().Err(err).Str("store_as", i.decompressor.Descriptor().Name).Msg("Failed to decompress object, skipping.")
		return nil
	}
	defer func() { _ = content.Close() }()

	return i.emitLines(ctx, log, content)
}

// fetch buffers the object according to the decompressor's buffering policy. release removes
// any local copy and must be called on every path.
func (i *Ingestor) fetch(ctx context.Context, key string) (codec.Source, func(), error) {
	if i.decompressor.Descriptor().Buffering == codec.BufferInMemory {
		var buf bytes.Buffer
		if err := i.bucket.GetObject(ctx, key, func(p []byte) error {
			_, err := buf.Write(p)
			return err
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
		}
		return codec.NewMemorySource(buf.Bytes()), func() {}, nil
	}

	f, err := os.CreateTemp(i.cfg.TempDir, "ossflow-object-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	release := func() {
		_ = f.Close()
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			i.logger.Warn().Err(rmErr).Str("path", f.Name()).Msg("Failed to remove temp file.")
		}
	}
	if err := i.bucket.GetObject(ctx, key, func(p []byte) error {
		_, err := f.Write(p)
		return err
	}); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to fetch object %s: %w", key, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to rewind object %s: %w", key, err)
	}
	return f, release, nil
}

// emitLines parses content line by line, emitting every FlushBatchLines records and once more
// at the end of the object, even when that final batch is empty.
func (i *Ingestor) emitLines(ctx context.Context, log zerolog.Logger, content io.Reader) error {
	reader := bufio.NewReaderSize(content, 64*1024)
	batch := make([]record.Event, 0, i.cfg.FlushBatchLines)
	lineNo := 0
	complete := true

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			lineNo++
			ev, ok, err := i.parser.Parse(line)
			if err != nil {
				linesSkipped.Inc()
				log.Warn().Err(err).Int("line", lineNo).Msg("Failed to parse line, skipping.")
			} else if ok {
				batch = append(batch, ev)
			}

			if len(batch) >= i.cfg.FlushBatchLines {
				if err := i.emit(ctx, batch); err != nil {
					return err
				}
				batch = make([]record.Event, 0, i.cfg.FlushBatchLines)
				if i.cfg.FlushPause > 0 {
					i.sleep(i.cfg.FlushPause)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// Batches already emitted stay emitted; the rest of the object is dropped.
			objectsSkipped.WithLabelValues("decompress").Inc()
			log.Warn().Err(readErr).Int("line", lineNo).Msg("Failed to read decompressed object, skipping the remainder.")
			complete = false
			break
		}
	}

	if err := i.emit(ctx, batch); err != nil {
		return err
	}
	if complete {
		objectsIngested.Inc()
	}
	return nil
}

func (i *Ingestor) emit(ctx context.Context, batch []record.Event) error {
	if err := i.sink.EmitBatch(ctx, i.cfg.Tag, batch); err != nil {
		return fmt.Errorf("failed to emit %d records: %w", len(batch), err)
	}
	emitBatches.Inc()
	recordsEmitted.Add(float64(len(batch)))
	return nil
}
