package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
)

const (
	// TagAttribute carries the record tag on published messages.
	TagAttribute = "tag"
	// TimeAttribute carries the record time, RFC 3339 with nanoseconds.
	TimeAttribute = "time"
)

// PubsubSinkConfig holds configuration for the Pub/Sub record sink.
type PubsubSinkConfig struct {
	ProjectID  string        `yaml:"project_id"`
	TopicID    string        `yaml:"topic_id"`
	BatchSize  int           `yaml:"batch_size"`  // Pub/Sub's CountThreshold.
	BatchDelay time.Duration `yaml:"batch_delay"` // Pub/Sub's DelayThreshold.

	TopicExistsTimeout         time.Duration `yaml:"-"`
	PublishConfirmationTimeout time.Duration `yaml:"-"`
}

// NewPubsubSinkDefaults provides a config with sensible defaults.
func NewPubsubSinkDefaults() *PubsubSinkConfig {
	return &PubsubSinkConfig{
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// PubsubSink publishes emitted record batches to a Pub/Sub topic, one message per record.
// The record map is the JSON payload; tag and time travel as attributes.
type PubsubSink struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
}

// NewPubsubSink validates the topic's existence before returning a functional sink.
func NewPubsubSink(ctx context.Context, cfg *PubsubSinkConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubSink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for sink")
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second
	topic.PublishSettings.NumGoroutines = 5

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubSink initialized successfully.")
	return &PubsubSink{
		topic:                      topic,
		logger:                     logger.With().Str("component", "PubsubSink").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// EmitBatch publishes every event and waits until each publish is confirmed.
// The batch fails if any record fails to marshal or publish.
func (s *PubsubSink) EmitBatch(ctx context.Context, tag string, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}

	results := make([]*pubsub.PublishResult, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev.Record)
		if err != nil {
			// Records already handed to the client still get published; wait for them.
			s.await(ctx, results)
			return fmt.Errorf("failed to marshal record for publishing: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				TagAttribute:  tag,
				TimeAttribute: ev.Time.UTC().Format(time.RFC3339Nano),
			},
		}))
	}

	if err := s.await(ctx, results); err != nil {
		return err
	}
	s.logger.Debug().Str("tag", tag).Int("count", len(events)).Msg("Batch published.")
	return nil
}

func (s *PubsubSink) await(ctx context.Context, results []*pubsub.PublishResult) error {
	getCtx, cancel := context.WithTimeout(ctx, s.publishConfirmationTimeout)
	defer cancel()

	var errs []error
	for _, res := range results {
		if _, err := res.Get(getCtx); err != nil {
			errs = append(errs, err)
		}
	}
	published.Add(float64(len(results) - len(errs)))
	if len(errs) > 0 {
		publishErrors.Add(float64(len(errs)))
		s.logger.Error().Err(errs[0]).Int("failed", len(errs)).Msg("Failed to publish records.")
		return fmt.Errorf("failed to publish %d of %d records: %w", len(errs), len(results), errors.Join(errs...))
	}
	return nil
}

// Stop flushes buffered messages, respecting the provided context's timeout.
func (s *PubsubSink) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Flushing remaining messages and stopping Pub/Sub topic...")
	stopDone := make(chan struct{})
	go func() {
		s.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		s.logger.Info().Msg("Pub/Sub topic stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
