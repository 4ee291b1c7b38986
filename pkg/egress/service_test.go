package egress_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-ossflow/pkg/egress"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPubsub(t *testing.T, projectID string) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Records published by the ingest side's Pub/Sub sink come back out of the bucket as one chunk.
func TestService_PubsubToBucket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	logger := zerolog.Nop()

	// Arrange: topic, subscription and the publishing sink.
	client := newTestPubsub(t, "test-project")
	topic, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "records-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	sinkCfg := messagepipeline.NewPubsubSinkDefaults()
	sinkCfg.TopicID = "records"
	sink, err := messagepipeline.NewPubsubSink(ctx, sinkCfg, client, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Stop(context.Background()) })

	// Arrange: the egress pipeline writing into a memory bucket.
	writer, fx := newEgress(t, nil, keygen.Config{Path: "fluent", CheckObject: true, Timekey: time.Hour}, logger)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(messagepipeline.NewGooglePubsubConsumerDefaults("records-sub"), client, logger)
	require.NoError(t, err)
	service, err := egress.NewService(egress.ServiceConfig{
		NumWorkers: 2,
		DefaultTag: "unused",
		Batcher: egress.BatcherConfig{
			ChunkLimitRecords: 3,
			FlushInterval:     time.Hour,
			Timekey:           time.Hour,
		},
	}, consumer, writer, record.JSONFormatter{}, logger)
	require.NoError(t, err)
	require.NoError(t, service.Start(ctx))

	// Act
	events := make([]record.Event, 3)
	for i := range events {
		events[i] = record.Event{
			Time:   testTimekey.Add(time.Duration(i) * time.Minute),
			Record: map[string]any{"message": fmt.Sprintf("m-%d", i)},
		}
	}
	require.NoError(t, sink.EmitBatch(ctx, "app.web", events))

	// Assert
	require.Eventually(t, func() bool {
		return len(fx.client.Objects("logs")) == 1
	}, 10*time.Second, 50*time.Millisecond, "one chunk should be written")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, service.Stop(stopCtx))

	objects := fx.client.Objects("logs")
	obj, ok := objects["fluent/20240709-13_0_0.gz"]
	require.True(t, ok, "unexpected keys: %v", objects)
	assert.Equal(t, "application/x-gzip", obj.ContentType)

	lines := strings.Split(strings.TrimSpace(gunzip(t, obj.Data)), "\n")
	assert.ElementsMatch(t, []string{`{"message":"m-0"}`, `{"message":"m-1"}`, `{"message":"m-2"}`}, lines)
	assert.Equal(t, 0, fx.contexts.Len(), "key context released after the write")
}
