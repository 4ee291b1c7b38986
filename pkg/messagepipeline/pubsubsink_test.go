package messagepipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubsubSink_EmitBatch(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, srv := newTestPubsub(t, "test-project")
	_, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)

	cfg := messagepipeline.NewPubsubSinkDefaults()
	cfg.TopicID = "records"
	sink, err := messagepipeline.NewPubsubSink(ctx, cfg, client, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Stop(context.Background()) })

	ts := time.Date(2024, 7, 9, 13, 5, 6, 0, time.UTC)
	events := []record.Event{
		{Time: ts, Record: map[string]any{"message": "a"}},
		{Time: ts.Add(time.Second), Record: map[string]any{"message": "b"}},
	}

	// Act
	err = sink.EmitBatch(ctx, "oss.logs", events)

	// Assert
	require.NoError(t, err)
	published := srv.Messages()
	require.Len(t, published, 2)
	bodies := map[string]string{}
	for _, m := range published {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(m.Data, &rec))
		assert.Equal(t, "oss.logs", m.Attributes[messagepipeline.TagAttribute])
		bodies[rec["message"].(string)] = m.Attributes[messagepipeline.TimeAttribute]
	}
	assert.Equal(t, "2024-07-09T13:05:06Z", bodies["a"])
	assert.Equal(t, "2024-07-09T13:05:07Z", bodies["b"])
}

func TestPubsubSink_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestPubsub(t, "test-project")
	_, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)
	cfg := messagepipeline.NewPubsubSinkDefaults()
	cfg.TopicID = "records"
	sink, err := messagepipeline.NewPubsubSink(ctx, cfg, client, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sink.EmitBatch(ctx, "t", nil))
	assert.Empty(t, srv.Messages())
}

func TestNewPubsubSink_MissingTopic(t *testing.T) {
	client, _ := newTestPubsub(t, "test-project")
	cfg := messagepipeline.NewPubsubSinkDefaults()
	cfg.TopicID = "absent"

	_, err := messagepipeline.NewPubsubSink(context.Background(), cfg, client, zerolog.Nop())

	require.Error(t, err)
}
