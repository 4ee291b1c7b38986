package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/illmade-knight/go-ossflow/pkg/config"
	"github.com/illmade-knight/go-ossflow/pkg/egress"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/microservice"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func egressCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "egress",
		Short: "consume records from Pub/Sub and write them to the bucket as compressed chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateEgress(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, nil)
			if err != nil {
				return err
			}
			return runEgress(cmd.Context(), cfg, logger)
		},
	}
}

// newChunkWriter builds the key generator and the writer on top of bucket access.
func newChunkWriter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*egress.Egress, func(), error) {
	bucket, closeBucket, err := openBucket(ctx, cfg.Storage, cfg.Storage.AutoCreate, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.EgressCodecOptions()
	opts.Logger = logger
	compressor, err := codec.LookupCompressorOrText(codec.NewCompressorRegistry(), cfg.Egress.StoreAs, opts)
	if err != nil {
		closeBucket()
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	kc := cfg.Egress.KeyContext
	if kc.Firestore.ProjectID == "" {
		kc.Firestore.ProjectID = cfg.Storage.ProjectID
	}
	contexts, err := newKeyContexts(ctx, kc, logger)
	if err != nil {
		closeBucket()
		return nil, nil, err
	}
	release := func() {
		if err := contexts.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close key context store.")
		}
		closeBucket()
	}

	keys, err := keygen.New(cfg.KeygenConfig(compressor.Descriptor().Extension), bucket, contexts, logger)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	writer, err := egress.New(bucket, keys, compressor, cfg.EgressWriteConfig(), logger)
	if err != nil {
		release()
		return nil, nil, err
	}
	return writer, release, nil
}

func runEgress(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	writer, release, err := newChunkWriter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	formatter, err := record.NewFormatter(cfg.Egress.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	projectID := cfg.Source.Pubsub.ProjectID
	if projectID == "" {
		projectID = cfg.Storage.ProjectID
	}
	client, err := newPubsubClient(ctx, projectID, cfg.Storage.CredentialsFile)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Source.Pubsub.SubscriptionID)
	consumerCfg.ProjectID = projectID
	consumer, err := messagepipeline.NewGooglePubsubConsumer(consumerCfg, client, logger)
	if err != nil {
		return err
	}

	service, err := egress.NewService(cfg.ServiceConfig(), consumer, writer, formatter, logger)
	if err != nil {
		return err
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPAddr)
	if err := server.Start(); err != nil {
		return err
	}
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start egress service: %w", err)
	}
	server.SetReady(true)
	logger.Info().Str("bucket", cfg.Storage.Bucket).Str("subscription_id", cfg.Source.Pubsub.SubscriptionID).Msg("Egress pipeline running.")

	return superviseEgress(ctx, service, server, logger)
}

// pipeline is the part of the egress service the command supervises.
type pipeline interface {
	Done() <-chan struct{}
	Stop(ctx context.Context) error
}

// superviseEgress waits for a shutdown signal or for the upstream consumer to die, then stops
// the pipeline and the server. Losing the consumer is reported as an error so the process exits
// non-zero and its supervisor restarts it.
func superviseEgress(ctx context.Context, p pipeline, server *microservice.BaseServer, logger zerolog.Logger) error {
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received.")
	case <-p.Done():
		runErr = errors.New("upstream consumer stopped unexpectedly")
		logger.Error().Err(runErr).Msg("Egress pipeline lost its source.")
	}
	server.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Egress pipeline did not stop cleanly.")
		runErr = errors.Join(runErr, fmt.Errorf("failed to stop egress pipeline: %w", err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly.")
	}
	return runErr
}
