package ingest_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/objstore"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// recordingSink captures every emitted batch.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]record.Event
	tags    []string
	err     error
}

func (s *recordingSink) EmitBatch(_ context.Context, tag string, events []record.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tags = append(s.tags, tag)
	s.batches = append(s.batches, append([]record.Event(nil), events...))
	return nil
}

func (s *recordingSink) Batches() [][]record.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]record.Event(nil), s.batches...)
}

func (s *recordingSink) Messages() []string {
	var out []string
	for _, b := range s.Batches() {
		for _, ev := range b {
			out = append(out, fmt.Sprint(ev.Record["message"]))
		}
	}
	return out
}

func gzipLines(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func jsonLines(prefix string, n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"message":"%s-%d"}`, prefix, i)
	}
	return lines
}

func putObject(t *testing.T, bucket objstore.Bucket, key string, data []byte) {
	t.Helper()
	require.NoError(t, bucket.PutObject(context.Background(), key, bytes.NewReader(data), int64(len(data)), "application/octet-stream"))
}

var fixedNow = func() time.Time { return time.Date(2024, 7, 9, 13, 0, 0, 0, time.UTC) }
