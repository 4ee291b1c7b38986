package egress

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
)

// BatcherConfig holds configuration for the Batcher.
type BatcherConfig struct {
	// ChunkLimitRecords flushes a chunk once it holds this many records.
	ChunkLimitRecords int
	// FlushInterval flushes every pending chunk when it elapses.
	FlushInterval time.Duration
	// FlushWorkers is the number of concurrent chunk writers.
	FlushWorkers int
	// Timekey is the width of a chunk's time bucket. Zero puts every record of a tag in one chunk.
	Timekey   time.Duration
	LocalTime bool
	// WriteTimeout bounds a single chunk write attempt.
	WriteTimeout time.Duration
	// WriteAttempts is how often a chunk is written before its messages are Nacked.
	WriteAttempts int
	// RetryInterval is the first wait between attempts; later waits grow exponentially.
	RetryInterval time.Duration
}

type pendingChunk struct {
	chunk *Chunk
	items []messagepipeline.Message
}

// Batcher groups records into chunks keyed by tag and time bucket and hands full chunks to a
// pool of writers. It implements messagepipeline.MessageProcessor for Record and owns the
// acknowledgment of every message it accepts: Ack once the chunk is stored, Nack otherwise.
//
// A failed write is retried with the same Chunk, so the retry keeps the chunk's key context.
// Once the attempts are used up the chunk is discarded and its messages are Nacked; their
// redelivery forms a new chunk with a new key context.
type Batcher struct {
	cfg       BatcherConfig
	writer    ChunkWriter
	formatter record.Formatter
	logger    zerolog.Logger
	inputChan chan *messagepipeline.ProcessableItem[Record]
	flushChan chan *pendingChunk
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewBatcher creates a new Batcher.
func NewBatcher(cfg BatcherConfig, writer ChunkWriter, formatter record.Formatter, logger zerolog.Logger) *Batcher {
	if cfg.ChunkLimitRecords <= 0 {
		cfg.ChunkLimitRecords = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.FlushWorkers <= 0 {
		cfg.FlushWorkers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &Batcher{
		cfg:       cfg,
		writer:    writer,
		formatter: formatter,
		logger:    logger.With().Str("component", "EgressBatcher").Logger(),
		inputChan: make(chan *messagepipeline.ProcessableItem[Record], cfg.ChunkLimitRecords*2),
		flushChan: make(chan *pendingChunk, cfg.FlushWorkers),
	}
}

// Input returns the write-only channel for records.
func (b *Batcher) Input() chan<- *messagepipeline.ProcessableItem[Record] {
	return b.inputChan
}

// Start launches the batching loop and the flush workers. Writes started after ctx is cancelled
// still run, bounded by WriteTimeout, so pending chunks are flushed on stop.
func (b *Batcher) Start(ctx context.Context) {
	b.logger.Info().
		Int("chunk_limit_records", b.cfg.ChunkLimitRecords).
		Dur("flush_interval", b.cfg.FlushInterval).
		Int("flush_workers", b.cfg.FlushWorkers).
		Msg("Starting egress Batcher...")

	writeCtx := context.WithoutCancel(ctx)
	var flushers sync.WaitGroup
	for i := 0; i < b.cfg.FlushWorkers; i++ {
		flushers.Add(1)
		go func(workerID string) {
			defer flushers.Done()
			for p := range b.flushChan {
				b.flush(writeCtx, p, workerID)
			}
		}(strconv.Itoa(i))
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.worker()
		close(b.flushChan)
		flushers.Wait()
	}()
}

// Stop closes the input, flushes every pending chunk and waits for the writes to finish.
func (b *Batcher) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping egress Batcher...")
	b.stopOnce.Do(func() { close(b.inputChan) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info().Msg("Egress Batcher stopped gracefully.")
		return nil
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for egress Batcher to stop.")
		return ctx.Err()
	}
}

func (b *Batcher) worker() {
	pending := make(map[string]*pendingChunk)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	flushAll := func() {
		if len(pending) == 0 {
			return
		}
		b.logger.Debug().Int("chunk_count", len(pending)).Msg("Flushing all pending chunks.")
		for key, p := range pending {
			b.flushChan <- p
			delete(pending, key)
		}
	}

	for {
		select {
		case item, ok := <-b.inputChan:
			if !ok {
				flushAll()
				return
			}
			if item.Payload == nil {
				item.Original.Settle(true)
				continue
			}
			line, err := b.formatter.Format(item.Payload.Tag, item.Payload.Event)
			if err != nil {
				b.logger.Error().Err(err).Str("msg_id", item.Original.ID).Msg("Failed to format record, Nacking.")
				item.Original.Settle(false)
				continue
			}

			timekey := b.bucketStart(item.Payload.Event.Time)
			key := item.Payload.Tag + "\x00" + strconv.FormatInt(timekey.UnixNano(), 10)
			p, ok := pending[key]
			if !ok {
				p = &pendingChunk{chunk: NewChunk(item.Payload.Tag, timekey, nil)}
				pending[key] = p
			}
			p.chunk.Append(line)
			p.items = append(p.items, item.Original)
			recordsBuffered.Inc()

			if p.chunk.Len() >= b.cfg.ChunkLimitRecords {
				b.flushChan <- p
				delete(pending, key)
			}
		case <-ticker.C:
			flushAll()
		}
	}
}

// bucketStart returns the start of the time bucket t falls in.
func (b *Batcher) bucketStart(t time.Time) time.Time {
	if b.cfg.Timekey <= 0 {
		return time.Time{}
	}
	if !b.cfg.LocalTime {
		return t.UTC().Truncate(b.cfg.Timekey)
	}
	// Truncate works on absolute time; shift so buckets align with local midnight.
	local := t.Local()
	_, offset := local.Zone()
	shift := time.Duration(offset) * time.Second
	return local.Add(shift).Truncate(b.cfg.Timekey).Add(-shift)
}

func (b *Batcher) flush(ctx context.Context, p *pendingChunk, workerID string) {
	log := b.logger.With().Str("tag", p.chunk.Tag).Int("records", p.chunk.Len()).Str("worker_id", workerID).Logger()

	var key string
	write := func() error {
		writeCtx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		defer cancel()
		k, err := b.writer.Write(writeCtx, p.chunk, workerID)
		if errors.Is(err, keygen.ErrDuplicateKey) {
			return backoff.Permanent(err)
		}
		key = k
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(b.cfg.RetryInterval),
		backoff.WithMaxElapsedTime(0),
	), uint64(b.cfg.WriteAttempts-1))
	notify := func(err error, wait time.Duration) {
		chunkWriteRetries.Inc()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Failed to write chunk, retrying.")
	}

	if err := backoff.RetryNotify(write, policy, notify); err != nil {
		log.Error().Err(err).Msg("Failed to write chunk, Nacking messages.")
		if dErr := b.writer.Discard(ctx, p.chunk); dErr != nil {
			log.Warn().Err(dErr).Msg("Failed to discard chunk state.")
		}
		for _, m := range p.items {
			m.Settle(false)
		}
		return
	}
	log.Debug().Str("key", key).Msg("Chunk written, Acking messages.")
	for _, m := range p.items {
		m.Settle(true)
	}
}
