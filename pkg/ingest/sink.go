package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/record"
)

// Sink receives the records extracted from ingested objects. EmitBatch may be called with an
// empty batch; that still signals an object was processed.
type Sink interface {
	EmitBatch(ctx context.Context, tag string, events []record.Event) error
}

// WriterSink writes each record as one JSON line to an io.Writer.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink creates a sink writing newline-delimited JSON to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

type writerLine struct {
	Tag    string         `json:"tag"`
	Time   string         `json:"time"`
	Record map[string]any `json:"record"`
}

func (s *WriterSink) EmitBatch(_ context.Context, tag string, events []record.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		line := writerLine{Tag: tag, Time: ev.Time.UTC().Format(time.RFC3339Nano), Record: ev.Record}
		if err := s.enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}
