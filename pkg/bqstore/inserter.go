// Package bqstore streams ingested records into a BigQuery table.
package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// maxLoggedRowErrors caps the per-row lines logged for one failed insert.
const maxLoggedRowErrors = 10

// DataBatchInserter inserts a batch of rows into a data store.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BigQueryDatasetConfig addresses the destination table and how it is laid out when created.
type BigQueryDatasetConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatasetID       string `yaml:"dataset_id"`
	TableID         string `yaml:"table_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// PartitionField is a TIMESTAMP column the created table is partitioned on by day.
	// Empty creates an unpartitioned table.
	PartitionField string `yaml:"partition_field"`
	// ClusterFields become the clustering columns of a created table.
	ClusterFields []string `yaml:"cluster_fields"`
}

// NewProductionBigQueryClient creates a BigQuery client with Application Default Credentials,
// or with credentialsFile when one is given.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client for project %s: %w", projectID, err)
	}
	logger.Info().Str("project_id", projectID).Bool("adc", credentialsFile == "").Msg("BigQuery client created.")
	return client, nil
}

// BigQueryInserter streams rows of type T into one table.
type BigQueryInserter[T any] struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter checks that the table exists, creating it from T's inferred schema when it
// does not, and returns an inserter for it.
func NewBigQueryInserter[T any](ctx context.Context, client *bigquery.Client, cfg *BigQueryDatasetConfig, logger zerolog.Logger) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil || cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("bigquery dataset and table are required")
	}
	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("table", fmt.Sprintf("%s.%s.%s", client.Project(), cfg.DatasetID, cfg.TableID)).
		Logger()

	table := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if err := ensureTable[T](ctx, table, cfg, logger); err != nil {
		return nil, err
	}
	return &BigQueryInserter[T]{inserter: table.Inserter(), logger: logger}, nil
}

func ensureTable[T any](ctx context.Context, table *bigquery.Table, cfg *BigQueryDatasetConfig, logger zerolog.Logger) error {
	_, err := table.Metadata(ctx)
	if err == nil {
		logger.Info().Msg("Using existing BigQuery table.")
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to read metadata of table %s: %w", cfg.TableID, err)
	}

	var zero T
	schema, err := bigquery.InferSchema(zero)
	if err != nil {
		return fmt.Errorf("failed to infer schema from %T: %w", zero, err)
	}
	meta := &bigquery.TableMetadata{Schema: schema}
	if cfg.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: cfg.PartitionField}
	}
	if len(cfg.ClusterFields) > 0 {
		meta.Clustering = &bigquery.Clustering{Fields: cfg.ClusterFields}
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("failed to create table %s: %w", cfg.TableID, err)
	}
	logger.Warn().
		Int("field_count", len(schema)).
		Str("partition_field", cfg.PartitionField).
		Strs("cluster_fields", cfg.ClusterFields).
		Msg("BigQuery table was missing and has been created.")
	return nil
}

// InsertBatch streams items in one request. Rejected rows are logged, up to a limit, and the
// returned error wraps the bigquery.PutMultiError.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}
	if err := i.inserter.Put(ctx, items); err != nil {
		var rowErrs bigquery.PutMultiError
		if errors.As(err, &rowErrs) {
			for n, rowErr := range rowErrs {
				if n == maxLoggedRowErrors {
					break
				}
				i.logger.Error().Int("row_index", rowErr.RowIndex).Str("row_error", rowErr.Errors.Error()).Msg("Row rejected.")
			}
			return fmt.Errorf("bigquery rejected %d of %d rows: %w", len(rowErrs), len(items), err)
		}
		return fmt.Errorf("failed to insert %d rows: %w", len(items), err)
	}
	i.logger.Debug().Int("batch_size", len(items)).Msg("Rows inserted.")
	return nil
}

// Close is a no-op; the client belongs to whoever created it.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
