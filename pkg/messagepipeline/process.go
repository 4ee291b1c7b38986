package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ProcessingService moves messages from a MessageConsumer through a transformer into a
// MessageProcessor using a fixed pool of workers.
//
// Messages the transformer rejects are Nacked and messages it skips are Acked here. Every
// other message is owned by the processor once it has been handed off.
type ProcessingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	processor   MessageProcessor[T]
	transformer MessageTransformer[T]
	logger      zerolog.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
}

// NewProcessingService creates a ProcessingService. A non-positive numWorkers selects 5.
func NewProcessingService[T any](
	numWorkers int,
	consumer MessageConsumer,
	processor MessageProcessor[T],
	transformer MessageTransformer[T],
	logger zerolog.Logger,
) (*ProcessingService[T], error) {
	if consumer == nil {
		return nil, errors.New("message consumer cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("message processor cannot be nil")
	}
	if transformer == nil {
		return nil, errors.New("message transformer cannot be nil")
	}
	if numWorkers <= 0 {
		numWorkers = 5
	}
	return &ProcessingService[T]{
		numWorkers:  numWorkers,
		consumer:    consumer,
		processor:   processor,
		transformer: transformer,
		logger:      logger.With().Str("service", "ProcessingService").Logger(),
	}, nil
}

// Start starts the processor first, then the consumer, then the workers, so nothing is
// consumed before there is somewhere to put it.
func (s *ProcessingService[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("processing service already started")
	}
	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting ProcessingService...")
	s.runCtx, s.cancel = context.WithCancel(ctx)

	s.processor.Start(s.runCtx)
	if err := s.consumer.Start(s.runCtx); err != nil {
		if stopErr := s.processor.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			s.logger.Warn().Err(stopErr).Msg("Processor did not stop cleanly after a failed start.")
		}
		s.cancel()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.started = true
	s.logger.Info().Msg("ProcessingService started.")
	return nil
}

func (s *ProcessingService[T]) worker(workerID int) {
	defer s.wg.Done()
	log := s.logger.With().Int("worker_id", workerID).Logger()
	log.Debug().Msg("Processing worker started.")
	for {
		select {
		case <-s.runCtx.Done():
			log.Debug().Msg("Processing worker shutting down.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				log.Debug().Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handle(log, msg)
		}
	}
}

func (s *ProcessingService[T]) handle(log zerolog.Logger, msg Message) {
	payload, skip, err := s.transformer(s.runCtx, &msg)
	switch {
	case err != nil:
		messagesConsumed.WithLabelValues(outcomeTransformError).Inc()
		log.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message, Nacking.")
		msg.Settle(false)
		return
	case skip:
		messagesConsumed.WithLabelValues(outcomeSkipped).Inc()
		log.Debug().Str("msg_id", msg.ID).Msg("Transformer skipped message, Acking.")
		msg.Settle(true)
		return
	}

	select {
	case s.processor.Input() <- &ProcessableItem[T]{Original: msg, Payload: payload}:
		messagesConsumed.WithLabelValues(outcomeHandedOff).Inc()
	case <-s.runCtx.Done():
		messagesConsumed.WithLabelValues(outcomeShutdown).Inc()
		log.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking message.")
		msg.Settle(false)
	}
}

// Done is closed once the consumer has stopped delivering, whether by Stop or on its own.
func (s *ProcessingService[T]) Done() <-chan struct{} { return s.consumer.Done() }

// Stop shuts down in reverse order: the consumer stops delivering, the workers drain what was
// already delivered into the processor, and the processor flushes. ctx bounds each wait, and
// every step that failed or timed out is reported in the returned error.
func (s *ProcessingService[T]) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.logger.Info().Msg("Stopping ProcessingService...")

	var errs []error
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
		errs = append(errs, fmt.Errorf("consumer: %w", err))
	}

	workersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
		s.logger.Info().Msg("All processing workers completed.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		errs = append(errs, fmt.Errorf("workers: %w", ctx.Err()))
	}

	if err := s.processor.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during processor stop.")
		errs = append(errs, fmt.Errorf("processor: %w", err))
	}
	s.cancel()
	s.logger.Info().Msg("ProcessingService stopped.")
	return errors.Join(errs...)
}
