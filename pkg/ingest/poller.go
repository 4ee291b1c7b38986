package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/mns"
	"github.com/illmade-knight/go-ossflow/pkg/notification"
	"github.com/rs/zerolog"
)

// QueueClient receives and acknowledges notification messages.
type QueueClient interface {
	Receive(ctx context.Context, queue string, waitSeconds *int) (*mns.Message, error)
	Delete(ctx context.Context, queue, receiptHandle string) (bool, error)
}

// EventDecoder turns a queue message into change events.
type EventDecoder interface {
	Decode(msg *mns.Message) ([]notification.ChangeEvent, error)
}

// EventIngestor processes the change events of one message.
type EventIngestor interface {
	Ingest(ctx context.Context, events []notification.ChangeEvent) error
}

// PollerConfig addresses the notification queue.
type PollerConfig struct {
	Queue string
	// WaitSeconds, when set, asks the queue service to long-poll.
	WaitSeconds *int
	// PollInterval is slept after every cycle.
	PollInterval time.Duration
}

// Poller runs the receive -> decode -> ingest -> delete loop on a single goroutine.
//
// Cancelling the context stops the loop at its next idle sleep or long-poll. A message already
// being processed is always finished and acknowledged first.
type Poller struct {
	queue    QueueClient
	decoder  EventDecoder
	ingestor EventIngestor
	cfg      PollerConfig
	logger   zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	doneChan chan struct{}
	err      error
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig, queue QueueClient, decoder EventDecoder, ingestor EventIngestor, logger zerolog.Logger) (*Poller, error) {
	if cfg.Queue == "" {
		return nil, errors.New("mns queue is required")
	}
	if queue == nil || decoder == nil || ingestor == nil {
		return nil, errors.New("poller requires a queue client, decoder and ingestor")
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	return &Poller{
		queue:    queue,
		decoder:  decoder,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger.With().Str("component", "QueuePoller").Str("queue", cfg.Queue).Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start runs the loop in the background. Done is closed when it exits and Err reports why.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("poller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		defer close(p.doneChan)
		err := p.Run(runCtx)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
	return nil
}

// Stop signals the loop and waits for it to finish its current cycle, or for ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	p.logger.Info().Msg("Stopping queue poller...")
	cancel()
	select {
	case <-p.doneChan:
		p.logger.Info().Msg("Queue poller stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for queue poller to stop.")
		return ctx.Err()
	}
}

// Done is closed once a started loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.doneChan }

// Err returns the error that ended the loop, nil after a clean shutdown.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Run polls until ctx is cancelled or a message fails its integrity or structure check.
// Transport and sink failures are logged and retried on the next cycle.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("poll_interval", p.cfg.PollInterval).Msg("Queue poller started.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	p.logger.Debug().Msg("Polling for a message.")
	msg, err := p.queue.Receive(ctx, p.cfg.Queue, p.cfg.WaitSeconds)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, mns.ErrIntegrity) {
			pollErrors.WithLabelValues("integrity").Inc()
			p.logger.Error().Err(err).Msg("Received a corrupt message.")
			return err
		}
		pollErrors.WithLabelValues("transport").Inc()
		p.logger.Warn().Err(err).Msg("Failed to receive message, retrying next cycle.")
		return nil
	}
	if msg == nil {
		return nil
	}
	messagesReceived.Inc()

	// Processing is never interrupted once a message is in hand.
	return p.process(context.WithoutCancel(ctx), msg)
}

func (p *Poller) process(ctx context.Context, msg *mns.Message) error {
	log := p.logger.With().Str("message_id", msg.ID).Int("dequeue_count", msg.DequeueCount).Logger()

	events, err := p.decoder.Decode(msg)
	if err != nil {
		pollErrors.WithLabelValues("malformed").Inc()
		log.Error().Err(err).Msg("Failed to decode notification, leaving it on the queue.")
		return fmt.Errorf("message %s: %w", msg.ID, err)
	}
	log.Info().Int("events", len(events)).Msg("Processing notification.")

	if err := p.ingestor.Ingest(ctx, events); err != nil {
		pollErrors.WithLabelValues("ingest").Inc()
		log.Warn().Err(err).Msg("Failed to ingest notification, it will be redelivered.")
		return nil
	}

	deleted, err := p.queue.Delete(ctx, p.cfg.Queue, msg.ReceiptHandle)
	if err != nil {
		pollErrors.WithLabelValues("transport").Inc()
		log.Warn().Err(err).Msg("Failed to delete message, it will be redelivered.")
		return nil
	}
	if !deleted {
		log.Warn().Msg("Message was already gone when deleting it.")
		return nil
	}
	messagesDeleted.Inc()
	log.Debug().Msg("Message deleted.")
	return nil
}
