// Package config loads the ossflow YAML configuration, applies environment overrides and
// validates it before any component is built.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/bqstore"
	"github.com/illmade-knight/go-ossflow/pkg/cache"
	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/illmade-knight/go-ossflow/pkg/egress"
	"github.com/illmade-knight/go-ossflow/pkg/ingest"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/objstore"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks a configuration that cannot start a pipeline.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override, for example OSSFLOW_ACCESS_KEY_SECRET.
const EnvPrefix = "OSSFLOW"

// Storage providers.
const (
	ProviderOSS    = "oss"
	ProviderS3     = "s3"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// Config is the root of the YAML document.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	HTTPAddr  string `yaml:"http_addr"`
	// TempDir holds downloaded objects, compressed chunks and codec spool files.
	TempDir string `yaml:"temp_dir"`

	Storage StorageConfig `yaml:"storage"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Egress  EgressConfig  `yaml:"egress"`
	Sink    SinkConfig    `yaml:"sink"`
	Source  SourceConfig  `yaml:"source"`
}

// StorageConfig addresses the bucket both pipelines work on.
type StorageConfig struct {
	Provider        string `yaml:"provider"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Secure          bool   `yaml:"secure"`
	Region          string `yaml:"region"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	AutoCreate      bool   `yaml:"auto_create_bucket"`
	CheckBucket     bool   `yaml:"check_bucket"`
}

// MNSConfig addresses the notification queue.
type MNSConfig struct {
	Endpoint string `yaml:"endpoint"`
	Queue    string `yaml:"queue"`
	// WaitSeconds enables long polling when set.
	WaitSeconds         *int `yaml:"wait_seconds"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
}

// IngestConfig configures the notification-driven ingestion pipeline.
type IngestConfig struct {
	Tag                    string              `yaml:"tag"`
	StoreAs                string              `yaml:"store_as"`
	StoreLocal             bool                `yaml:"store_local"`
	FlushBatchLines        int                 `yaml:"flush_batch_lines"`
	FlushPauseMilliseconds int                 `yaml:"flush_pause_milliseconds"`
	CommandParameter       string              `yaml:"command_parameter"`
	Parse                  record.ParserConfig `yaml:"parse"`
	MNS                    MNSConfig           `yaml:"mns"`
}

// FirestoreConfig names the collection holding key contexts.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// KeyContextConfig selects where per-chunk key state lives.
type KeyContextConfig struct {
	// Backend is "memory", "redis" or "firestore".
	Backend   string            `yaml:"backend"`
	Redis     cache.RedisConfig `yaml:"redis"`
	Firestore FirestoreConfig   `yaml:"firestore"`
}

// EgressConfig configures the chunk writer.
type EgressConfig struct {
	Path             string                 `yaml:"path"`
	KeyFormat        string                 `yaml:"key_format"`
	StoreAs          string                 `yaml:"store_as"`
	CheckObject      bool                   `yaml:"check_object"`
	Overwrite        bool                   `yaml:"overwrite"`
	HexRandomLength  int                    `yaml:"hex_random_length"`
	IndexFormat      string                 `yaml:"index_format"`
	WarnForDelay     time.Duration          `yaml:"warn_for_delay"`
	TimeSliceFormat  string                 `yaml:"time_slice_format"`
	Timekey          time.Duration          `yaml:"timekey"`
	LocalTime        bool                   `yaml:"local_time"`
	CommandParameter string                 `yaml:"command_parameter"`
	Format           record.FormatterConfig `yaml:"format"`

	DefaultTag        string           `yaml:"default_tag"`
	ChunkLimitRecords int              `yaml:"chunk_limit_records"`
	FlushInterval     time.Duration    `yaml:"flush_interval"`
	FlushWorkers      int              `yaml:"flush_workers"`
	NumWorkers        int              `yaml:"num_workers"`
	WriteAttempts     int              `yaml:"write_attempts"`
	RetryInterval     time.Duration    `yaml:"retry_interval"`
	KeyContext        KeyContextConfig `yaml:"key_context"`
}

// PubsubTopicConfig names a Pub/Sub topic.
type PubsubTopicConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// SinkConfig selects where ingested records go: "stdout", "pubsub" or "bigquery".
type SinkConfig struct {
	Type     string                        `yaml:"type"`
	Pubsub   PubsubTopicConfig             `yaml:"pubsub"`
	BigQuery bqstore.BigQueryDatasetConfig `yaml:"bigquery"`
}

// PubsubSubscriptionConfig names a Pub/Sub subscription.
type PubsubSubscriptionConfig struct {
	ProjectID      string `yaml:"project_id"`
	SubscriptionID string `yaml:"subscription_id"`
}

// SourceConfig selects where egress records come from. Only "pubsub" is supported.
type SourceConfig struct {
	Type   string                   `yaml:"type"`
	Pubsub PubsubSubscriptionConfig `yaml:"pubsub"`
}

// envOverrides are the settings that may come from the environment instead of the file.
type envOverrides struct {
	LogLevel        string `envconfig:"LOG_LEVEL"`
	HTTPAddr        string `envconfig:"HTTP_ADDR"`
	StorageEndpoint string `envconfig:"STORAGE_ENDPOINT"`
	Bucket          string `envconfig:"BUCKET"`
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	AccessKeySecret string `envconfig:"ACCESS_KEY_SECRET"`
	MNSEndpoint     string `envconfig:"MNS_ENDPOINT"`
	MNSQueue        string `envconfig:"MNS_QUEUE"`
	RedisAddr       string `envconfig:"REDIS_ADDR"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	ProjectID       string `envconfig:"PROJECT_ID"`
}

// Default returns a Config populated with the defaults of every setting.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		HTTPAddr:  ":8080",
		Storage: StorageConfig{
			Provider:    ProviderOSS,
			Secure:      true,
			CheckBucket: true,
		},
		Ingest: IngestConfig{
			Tag:                    "input.oss",
			StoreAs:                "gzip",
			StoreLocal:             true,
			FlushBatchLines:        1000,
			FlushPauseMilliseconds: 1,
			Parse:                  record.ParserConfig{Type: "none"},
			MNS:                    MNSConfig{PollIntervalSeconds: 30},
		},
		Egress: EgressConfig{
			Path:              "fluent/logs",
			StoreAs:           "gzip",
			CheckObject:       true,
			HexRandomLength:   4,
			IndexFormat:       "%d",
			Timekey:           24 * time.Hour,
			Format:            record.FormatterConfig{Type: "out_file"},
			DefaultTag:        "output.oss",
			ChunkLimitRecords: 1000,
			FlushInterval:     time.Minute,
			FlushWorkers:      1,
			NumWorkers:        5,
			WriteAttempts:     3,
			RetryInterval:     time.Second,
			KeyContext:        KeyContextConfig{Backend: "memory"},
		},
		Sink: SinkConfig{
			Type:     "stdout",
			BigQuery: bqstore.BigQueryDatasetConfig{PartitionField: "time", ClusterFields: []string{"tag"}},
		},
		Source: SourceConfig{Type: "pubsub"},
	}
}

// Load reads the YAML file at path over the defaults and then applies environment overrides.
// An empty path yields the defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.LogLevel, env.LogLevel)
	set(&c.HTTPAddr, env.HTTPAddr)
	set(&c.Storage.Endpoint, env.StorageEndpoint)
	set(&c.Storage.Bucket, env.Bucket)
	set(&c.Storage.AccessKeyID, env.AccessKeyID)
	set(&c.Storage.AccessKeySecret, env.AccessKeySecret)
	set(&c.Ingest.MNS.Endpoint, env.MNSEndpoint)
	set(&c.Ingest.MNS.Queue, env.MNSQueue)
	set(&c.Egress.KeyContext.Redis.Addr, env.RedisAddr)
	set(&c.Egress.KeyContext.Redis.Password, env.RedisPassword)
	set(&c.Storage.ProjectID, env.ProjectID)
	return nil
}

// MinioConfig returns the S3-compatible client settings.
func (s StorageConfig) MinioConfig() objstore.MinioConfig {
	return objstore.MinioConfig{
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKeyID,
		AccessKeySecret: s.AccessKeySecret,
		Secure:          s.Secure,
		Region:          s.Region,
	}
}

// IngestCodecOptions returns the options for the ingest decompressor.
func (c *Config) IngestCodecOptions() codec.Options {
	return codec.Options{
		StoreLocal:       c.Ingest.StoreLocal,
		CommandParameter: c.Ingest.CommandParameter,
		TempDir:          c.TempDir,
	}
}

// EgressCodecOptions returns the options for the egress compressor.
func (c *Config) EgressCodecOptions() codec.Options {
	return codec.Options{
		CommandParameter: c.Egress.CommandParameter,
		TempDir:          c.TempDir,
	}
}

// IngestorConfig returns the object ingestor settings.
func (c *Config) IngestorConfig() ingest.IngestorConfig {
	return ingest.IngestorConfig{
		Tag:             c.Ingest.Tag,
		FlushBatchLines: c.Ingest.FlushBatchLines,
		FlushPause:      time.Duration(c.Ingest.FlushPauseMilliseconds) * time.Millisecond,
		TempDir:         c.TempDir,
	}
}

// PollerConfig returns the queue poller settings.
func (c *Config) PollerConfig() ingest.PollerConfig {
	return ingest.PollerConfig{
		Queue:        c.Ingest.MNS.Queue,
		WaitSeconds:  c.Ingest.MNS.WaitSeconds,
		PollInterval: time.Duration(c.Ingest.MNS.PollIntervalSeconds) * time.Second,
	}
}

// KeygenConfig returns the key generator settings for a compressor with the given extension.
func (c *Config) KeygenConfig(extension string) keygen.Config {
	return keygen.Config{
		Path:            c.Egress.Path,
		KeyFormat:       c.Egress.KeyFormat,
		CheckObject:     c.Egress.CheckObject,
		Overwrite:       c.Egress.Overwrite,
		HexRandomLength: c.Egress.HexRandomLength,
		IndexFormat:     c.Egress.IndexFormat,
		TimeSliceFormat: c.Egress.TimeSliceFormat,
		Timekey:         c.Egress.Timekey,
		LocalTime:       c.Egress.LocalTime,
		Extension:       extension,
	}
}

// EgressWriteConfig returns the chunk writer settings.
func (c *Config) EgressWriteConfig() egress.Config {
	return egress.Config{WarnForDelay: c.Egress.WarnForDelay, TempDir: c.TempDir}
}

// ServiceConfig returns the egress service settings.
func (c *Config) ServiceConfig() egress.ServiceConfig {
	return egress.ServiceConfig{
		NumWorkers: c.Egress.NumWorkers,
		DefaultTag: c.Egress.DefaultTag,
		Batcher: egress.BatcherConfig{
			ChunkLimitRecords: c.Egress.ChunkLimitRecords,
			FlushInterval:     c.Egress.FlushInterval,
			FlushWorkers:      c.Egress.FlushWorkers,
			Timekey:           c.Egress.Timekey,
			LocalTime:         c.Egress.LocalTime,
			WriteAttempts:     c.Egress.WriteAttempts,
			RetryInterval:     c.Egress.RetryInterval,
		},
	}
}
