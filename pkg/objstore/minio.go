package objstore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioConfig connects to an S3-compatible endpoint such as OSS.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Secure          bool
	Region          string
}

// minioAPI is the subset of *minio.Client the bucket uses, so it can be replaced in tests.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// minioClientAdapter narrows GetObject to io.ReadCloser.
type minioClientAdapter struct {
	*minio.Client
}

func (a minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.Client.GetObject(ctx, bucketName, objectName, opts)
}

// MinioClient is a Client backed by minio-go.
type MinioClient struct {
	api    minioAPI
	region string
	logger zerolog.Logger
}

// NewMinioClient connects to cfg.Endpoint with static credentials.
func NewMinioClient(cfg MinioConfig, logger zerolog.Logger) (*MinioClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newMinioClient(minioClientAdapter{client}, cfg.Region, logger), nil
}

func newMinioClient(api minioAPI, region string, logger zerolog.Logger) *MinioClient {
	return &MinioClient{
		api:    api,
		region: region,
		logger: logger.With().Str("component", "MinioClient").Logger(),
	}
}

func (c *MinioClient) BucketExists(ctx context.Context, name string) (bool, error) {
	return c.api.BucketExists(ctx, name)
}

func (c *MinioClient) CreateBucket(ctx context.Context, name string) error {
	return c.api.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: c.region})
}

func (c *MinioClient) Bucket(name string) Bucket {
	return &minioBucket{api: c.api, name: name, logger: c.logger.With().Str("bucket", name).Logger()}
}

type minioBucket struct {
	api    minioAPI
	name   string
	logger zerolog.Logger
}

func (b *minioBucket) Name() string { return b.name }

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (b *minioBucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.api.StatObject(ctx, b.name, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", key, err)
}

func (b *minioBucket) GetObject(ctx context.Context, key string, fn func([]byte) error) error {
	obj, err := b.api.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	if err := streamChunks(obj, fn); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
		}
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return nil
}

func (b *minioBucket) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	info, err := b.api.PutObject(ctx, b.name, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	b.logger.Debug().Str("key", key).Int64("size", info.Size).Msg("Put object.")
	return nil
}

func (b *minioBucket) ListObjects(ctx context.Context, prefix string, fn func(string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for object := range b.api.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list objects under %q: %w", prefix, object.Err)
		}
		if err := fn(object.Key); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (b *minioBucket) DeleteObject(ctx context.Context, key string) error {
	if err := b.api.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
