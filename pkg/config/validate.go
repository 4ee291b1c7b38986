package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true, "disabled": true,
}

// ValidateIngest performs the configure-time checks of the ingest pipeline. Codec lookups check
// external utilities, so a missing lzop or xz is reported here rather than on the first object.
func (c *Config) ValidateIngest() error {
	var errs []error
	errs = append(errs, c.validateCommon()...)

	in := c.Ingest
	if in.MNS.Endpoint == "" {
		errs = append(errs, errors.New("ingest.mns.endpoint is required"))
	}
	if in.MNS.Queue == "" {
		errs = append(errs, errors.New("ingest.mns.queue is required"))
	}
	if in.MNS.WaitSeconds != nil && (*in.MNS.WaitSeconds < 0 || *in.MNS.WaitSeconds > 30) {
		errs = append(errs, fmt.Errorf("ingest.mns.wait_seconds must be between 0 and 30, got %d", *in.MNS.WaitSeconds))
	}
	if in.MNS.PollIntervalSeconds < 0 {
		errs = append(errs, errors.New("ingest.mns.poll_interval_seconds cannot be negative"))
	}
	if in.FlushBatchLines <= 0 {
		errs = append(errs, fmt.Errorf("ingest.flush_batch_lines must be positive, got %d", in.FlushBatchLines))
	}
	if in.FlushPauseMilliseconds < 0 {
		errs = append(errs, errors.New("ingest.flush_pause_milliseconds cannot be negative"))
	}
	if _, err := codec.NewDecompressorRegistry().Lookup(in.StoreAs, c.IngestCodecOptions()); err != nil {
		errs = append(errs, fmt.Errorf("ingest.store_as: %w", err))
	}
	if _, err := record.NewParser(in.Parse, time.Now); err != nil {
		errs = append(errs, fmt.Errorf("ingest.parse: %w", err))
	}

	switch c.Sink.Type {
	case "stdout":
	case "pubsub":
		if c.Sink.Pubsub.TopicID == "" {
			errs = append(errs, errors.New("sink.pubsub.topic_id is required"))
		}
	case "bigquery":
		if c.Sink.BigQuery.DatasetID == "" || c.Sink.BigQuery.TableID == "" {
			errs = append(errs, errors.New("sink.bigquery.dataset_id and sink.bigquery.table_id are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink.type %q", c.Sink.Type))
	}
	return wrap(errs)
}

// ValidateEgress performs the configure-time checks of the egress pipeline.
func (c *Config) ValidateEgress() error {
	var errs []error
	errs = append(errs, c.validateCommon()...)

	eg := c.Egress
	// Unknown compressors degrade to text at build time, so only the text fallback's extension matters here.
	ext := "txt"
	comp, err := codec.LookupCompressorOrText(codec.NewCompressorRegistry(), eg.StoreAs, c.EgressCodecOptions())
	if err != nil {
		errs = append(errs, fmt.Errorf("egress.store_as: %w", err))
	} else {
		ext = comp.Descriptor().Extension
	}
	if _, err := keygen.New(c.KeygenConfig(ext), noObjects{}, nil, zerolog.Nop()); err != nil {
		errs = append(errs, fmt.Errorf("egress: %w", err))
	}
	if _, err := record.NewFormatter(eg.Format); err != nil {
		errs = append(errs, fmt.Errorf("egress.format: %w", err))
	}
	if eg.Timekey < 0 {
		errs = append(errs, errors.New("egress.timekey cannot be negative"))
	}
	if eg.WarnForDelay < 0 {
		errs = append(errs, errors.New("egress.warn_for_delay cannot be negative"))
	}
	if eg.WriteAttempts < 0 {
		errs = append(errs, errors.New("egress.write_attempts cannot be negative"))
	}
	if eg.RetryInterval < 0 {
		errs = append(errs, errors.New("egress.retry_interval cannot be negative"))
	}
	switch eg.KeyContext.Backend {
	case "", "memory":
	case "redis":
		if eg.KeyContext.Redis.Addr == "" {
			errs = append(errs, errors.New("egress.key_context.redis.addr is required"))
		}
	case "firestore":
		if eg.KeyContext.Firestore.Collection == "" {
			errs = append(errs, errors.New("egress.key_context.firestore.collection is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown egress.key_context.backend %q", eg.KeyContext.Backend))
	}

	if c.Source.Type != "pubsub" {
		errs = append(errs, fmt.Errorf("unknown source.type %q", c.Source.Type))
	} else if c.Source.Pubsub.SubscriptionID == "" {
		errs = append(errs, errors.New("source.pubsub.subscription_id is required"))
	}
	return wrap(errs)
}

func (c *Config) validateCommon() []error {
	var errs []error
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}

	s := c.Storage
	if s.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	switch s.Provider {
	case ProviderOSS, ProviderS3:
		if s.Endpoint == "" {
			errs = append(errs, errors.New("storage.endpoint is required"))
		}
		if s.AccessKeyID == "" || s.AccessKeySecret == "" {
			errs = append(errs, errors.New("storage.access_key_id and storage.access_key_secret are required"))
		}
	case ProviderGCS, ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.provider %q", s.Provider))
	}
	return errs
}

func wrap(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// noObjects satisfies keygen's checker during validation; no object ever exists.
type noObjects struct{}

func (noObjects) ObjectExists(context.Context, string) (bool, error) { return false, nil }
