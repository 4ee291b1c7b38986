package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-ossflow/pkg/cache"
	"github.com/illmade-knight/go-ossflow/pkg/config"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/objstore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// openBucket connects to the configured provider and, when check_bucket is set, makes sure the
// bucket exists. The returned close func releases the provider client.
func openBucket(ctx context.Context, s config.StorageConfig, autoCreate bool, logger zerolog.Logger) (objstore.Bucket, func(), error) {
	var (
		client  objstore.Client
		closeFn = func() {}
	)
	switch s.Provider {
	case config.ProviderOSS, config.ProviderS3:
		c, err := objstore.NewMinioClient(s.MinioConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		client = c
	case config.ProviderGCS:
		var opts []option.ClientOption
		if s.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(s.CredentialsFile))
		}
		gcs, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		c, err := objstore.NewGCSClient(objstore.NewGCSClientAdapter(gcs), s.ProjectID, logger)
		if err != nil {
			_ = gcs.Close()
			return nil, nil, err
		}
		client = c
		closeFn = func() { _ = gcs.Close() }
	case config.ProviderMemory:
		client = objstore.NewMemoryClient(s.Bucket)
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage.provider %q", config.ErrInvalidConfig, s.Provider)
	}

	if s.CheckBucket {
		if err := objstore.EnsureBucket(ctx, client, s.Bucket, autoCreate, logger); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return client.Bucket(s.Bucket), closeFn, nil
}

// firestoreKeyContexts owns its client, which the cache itself leaves open.
type firestoreKeyContexts struct {
	*cache.FirestorePresenceCache[string, keygen.KeyContext]
	client *firestore.Client
}

func (f firestoreKeyContexts) Close() error { return f.client.Close() }

// newKeyContexts returns the store for per-chunk key state.
func newKeyContexts(ctx context.Context, kc config.KeyContextConfig, logger zerolog.Logger) (cache.PresenceCache[string, keygen.KeyContext], error) {
	switch kc.Backend {
	case "redis":
		redisCfg := kc.Redis
		if redisCfg.KeyPrefix == "" {
			redisCfg.KeyPrefix = "ossflow:keyctx:"
		}
		rc, err := cache.NewRedisPresenceCache[string, keygen.KeyContext](ctx, &redisCfg, logger)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "firestore":
		client, err := firestore.NewClient(ctx, kc.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		fc, err := cache.NewFirestorePresenceCache[string, keygen.KeyContext](client, kc.Firestore.Collection)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info().Str("collection", kc.Firestore.Collection).Msg("Using Firestore for key contexts.")
		return firestoreKeyContexts{FirestorePresenceCache: fc, client: client}, nil
	default:
		return cache.NewInMemoryPresenceCache[string, keygen.KeyContext](), nil
	}
}

func newPubsubClient(ctx context.Context, projectID, credentialsFile string) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, nil
}
