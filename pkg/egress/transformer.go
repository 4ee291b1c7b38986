package egress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/record"
)

// Record is one upstream event routed to a chunk by its tag.
type Record struct {
	Tag   string
	Event record.Event
}

// NewRecordTransformer returns a transformer that decodes a message payload into a Record.
// A JSON object payload becomes the record; anything else is kept under the message key.
// The tag and time attributes win over defaultTag and the publish time.
func NewRecordTransformer(defaultTag string, now func() time.Time) messagepipeline.MessageTransformer[Record] {
	if now == nil {
		now = time.Now
	}
	return func(_ context.Context, msg *messagepipeline.Message) (*Record, bool, error) {
		if len(msg.Payload) == 0 {
			return nil, true, nil
		}

		var fields map[string]any
		if err := json.Unmarshal(msg.Payload, &fields); err != nil || fields == nil {
			fields = map[string]any{record.DefaultMessageKey: string(msg.Payload)}
		}

		var ts time.Time
		if raw, ok := msg.Attributes[messagepipeline.TimeAttribute]; ok {
			if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				ts = parsed
			}
		}
		if ts.IsZero() {
			ts = msg.PublishTime
		}
		if ts.IsZero() {
			ts = now()
		}

		tag := defaultTag
		if t := msg.Attributes[messagepipeline.TagAttribute]; t != "" {
			tag = t
		}
		return &Record{Tag: tag, Event: record.Event{Time: ts, Record: fields}}, false, nil
	}
}
