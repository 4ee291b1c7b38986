package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/bqstore"
	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/illmade-knight/go-ossflow/pkg/config"
	"github.com/illmade-knight/go-ossflow/pkg/ingest"
	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/microservice"
	"github.com/illmade-knight/go-ossflow/pkg/mns"
	"github.com/illmade-knight/go-ossflow/pkg/notification"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func ingestCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "poll the MNS queue and emit the records of every announced object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateIngest(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, nil)
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), cfg, logger)
		},
	}
}

// closableSink is a sink that holds resources until shutdown.
type closableSink struct {
	ingest.Sink
	close func(ctx context.Context) error
}

func newSink(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*closableSink, error) {
	switch cfg.Sink.Type {
	case "pubsub":
		projectID := cfg.Sink.Pubsub.ProjectID
		if projectID == "" {
			projectID = cfg.Storage.ProjectID
		}
		client, err := newPubsubClient(ctx, projectID, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, err
		}
		sinkCfg := messagepipeline.NewPubsubSinkDefaults()
		sinkCfg.ProjectID = projectID
		sinkCfg.TopicID = cfg.Sink.Pubsub.TopicID
		sink, err := messagepipeline.NewPubsubSink(ctx, sinkCfg, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &closableSink{Sink: sink, close: func(ctx context.Context) error {
			err := sink.Stop(ctx)
			return errors.Join(err, client.Close())
		}}, nil

	case "bigquery":
		bqCfg := cfg.Sink.BigQuery
		if bqCfg.ProjectID == "" {
			bqCfg.ProjectID = cfg.Storage.ProjectID
		}
		client, err := bqstore.NewProductionBigQueryClient(ctx, bqCfg.ProjectID, bqCfg.CredentialsFile, logger)
		if err != nil {
			return nil, err
		}
		inserter, err := bqstore.NewBigQueryInserter[bqstore.RecordRow](ctx, client, &bqCfg, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		sink, err := bqstore.NewRecordSink(inserter, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &closableSink{Sink: sink, close: func(context.Context) error {
			return errors.Join(sink.Close(), client.Close())
		}}, nil

	default:
		return &closableSink{Sink: ingest.NewWriterSink(os.Stdout), close: func(context.Context) error { return nil }}, nil
	}
}

func runIngest(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	bucket, closeBucket, err := openBucket(ctx, cfg.Storage, false, logger)
	if err != nil {
		return err
	}
	defer closeBucket()

	opts := cfg.IngestCodecOptions()
	opts.Logger = logger
	decompressor, err := codec.NewDecompressorRegistry().Lookup(cfg.Ingest.StoreAs, opts)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	parser, err := record.NewParser(cfg.Ingest.Parse, time.Now)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sink.close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to close sink.")
		}
	}()

	ingestor, err := ingest.NewIngestor(bucket, decompressor, parser, sink, cfg.IngestorConfig(), logger)
	if err != nil {
		return err
	}

	timeout := 60 * time.Second
	if w := cfg.Ingest.MNS.WaitSeconds; w != nil {
		timeout += time.Duration(*w) * time.Second
	}
	queue, err := mns.NewClient(mns.ClientConfig{
		Endpoint:        cfg.Ingest.MNS.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		AccessKeySecret: cfg.Storage.AccessKeySecret,
		Timeout:         timeout,
	}, nil, logger)
	if err != nil {
		return err
	}

	poller, err := ingest.NewPoller(cfg.PollerConfig(), queue, notification.NewDecoder(cfg.Storage.Bucket), ingestor, logger)
	if err != nil {
		return err
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPAddr)
	if err := server.Start(); err != nil {
		return err
	}
	if err := poller.Start(ctx); err != nil {
		return err
	}
	server.SetReady(true)
	logger.Info().Str("bucket", cfg.Storage.Bucket).Str("queue", cfg.Ingest.MNS.Queue).Msg("Ingest pipeline running.")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received.")
	case <-poller.Done():
	}
	server.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopErr := poller.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly.")
	}
	if err := poller.Err(); err != nil {
		return fmt.Errorf("queue poller stopped: %w", err)
	}
	return stopErr
}
