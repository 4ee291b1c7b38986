package bqstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
)

// RecordRow is one ingested record as stored in BigQuery. The record map is kept as a JSON string
// so the table schema does not depend on the content of the objects being ingested.
type RecordRow struct {
	Tag    string    `bigquery:"tag"`
	Time   time.Time `bigquery:"time"`
	Record string    `bigquery:"record"`
}

// Save implements bigquery.ValueSaver so rows are inserted without per-row reflection.
func (r *RecordRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"tag":    r.Tag,
		"time":   r.Time,
		"record": r.Record,
	}, bigquery.NoDedupeID, nil
}

// RecordSink writes emitted record batches to BigQuery. It satisfies ingest.Sink.
type RecordSink struct {
	inserter DataBatchInserter[RecordRow]
	logger   zerolog.Logger
}

// NewRecordSink wraps an inserter.
func NewRecordSink(inserter DataBatchInserter[RecordRow], logger zerolog.Logger) (*RecordSink, error) {
	if inserter == nil {
		return nil, errors.New("inserter cannot be nil")
	}
	return &RecordSink{
		inserter: inserter,
		logger:   logger.With().Str("component", "BigQueryRecordSink").Logger(),
	}, nil
}

// EmitBatch converts events to rows and inserts them as one batch. Empty batches are ignored.
func (s *RecordSink) EmitBatch(ctx context.Context, tag string, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]*RecordRow, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev.Record)
		if err != nil {
			return fmt.Errorf("failed to marshal record for BigQuery: %w", err)
		}
		rows = append(rows, &RecordRow{Tag: tag, Time: ev.Time.UTC(), Record: string(payload)})
	}
	if err := s.inserter.InsertBatch(ctx, rows); err != nil {
		return err
	}
	s.logger.Debug().Str("tag", tag).Int("count", len(rows)).Msg("Batch inserted.")
	return nil
}

// Close releases the inserter.
func (s *RecordSink) Close() error {
	return s.inserter.Close()
}
