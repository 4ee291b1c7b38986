package egress_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/egress"
	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransformer(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	published := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	transform := egress.NewRecordTransformer("default.tag", func() time.Time { return now })

	testCases := []struct {
		name     string
		msg      messagepipeline.Message
		wantTag  string
		wantTime time.Time
		wantRec  map[string]any
	}{
		{
			name: "json payload with attributes",
			msg: messagepipeline.Message{
				MessageData: messagepipeline.MessageData{Payload: []byte(`{"level":"info"}`), PublishTime: published},
				Attributes: map[string]string{
					messagepipeline.TagAttribute:  "app.web",
					messagepipeline.TimeAttribute: "2024-07-09T13:05:06.5Z",
				},
			},
			wantTag:  "app.web",
			wantTime: time.Date(2024, 7, 9, 13, 5, 6, 500000000, time.UTC),
			wantRec:  map[string]any{"level": "info"},
		},
		{
			name:     "plain payload falls back to publish time",
			msg:      messagepipeline.Message{MessageData: messagepipeline.MessageData{Payload: []byte("hello"), PublishTime: published}},
			wantTag:  "default.tag",
			wantTime: published,
			wantRec:  map[string]any{"message": "hello"},
		},
		{
			name:     "json array is kept as text and clock fills time",
			msg:      messagepipeline.Message{MessageData: messagepipeline.MessageData{Payload: []byte(`[1,2]`)}},
			wantTag:  "default.tag",
			wantTime: now,
			wantRec:  map[string]any{"message": "[1,2]"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, skip, err := transform(context.Background(), &tc.msg)

			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, tc.wantTag, got.Tag)
			assert.True(t, tc.wantTime.Equal(got.Event.Time), "time %s", got.Event.Time)
			assert.Equal(t, tc.wantRec, got.Event.Record)
		})
	}
}

func TestRecordTransformer_SkipsEmptyPayload(t *testing.T) {
	transform := egress.NewRecordTransformer("t", nil)

	got, skip, err := transform(context.Background(), &messagepipeline.Message{})

	require.NoError(t, err)
	assert.True(t, skip)
	assert.Nil(t, got)
}
