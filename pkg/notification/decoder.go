// Package notification decodes the object change events carried in a queue message body.
package notification

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-ossflow/pkg/mns"
)

// ErrMalformed is returned when a message body is not a valid base64-encoded event batch.
var ErrMalformed = errors.New("malformed change notification")

// ChangeEvent describes one changed object in the watched bucket.
type ChangeEvent struct {
	EventName string
	Bucket    string
	Key       string
	Size      int64
	ETag      string
}

// envelope mirrors the JSON document carried in the message body.
type envelope struct {
	Events *[]struct {
		EventName string `json:"eventName"`
		OSS       *struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object *struct {
				Key  *string `json:"key"`
				Size int64   `json:"size"`
				ETag string  `json:"eTag"`
			} `json:"object"`
		} `json:"oss"`
	} `json:"events"`
}

// Decoder turns queue messages into change events.
type Decoder struct {
	// Bucket is used for events that do not name their own bucket.
	Bucket string
}

// NewDecoder returns a Decoder that defaults events to bucket.
func NewDecoder(bucket string) *Decoder {
	return &Decoder{Bucket: bucket}
}

// Decode returns the events of msg in the order they appear in the body.
func (d *Decoder) Decode(msg *mns.Message) ([]ChangeEvent, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: message %s: invalid base64: %v", ErrMalformed, msg.ID, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: message %s: invalid JSON: %v", ErrMalformed, msg.ID, err)
	}
	if env.Events == nil {
		return nil, fmt.Errorf("%w: message %s: missing events", ErrMalformed, msg.ID)
	}

	events := make([]ChangeEvent, 0, len(*env.Events))
	for i, e := range *env.Events {
		if e.OSS == nil || e.OSS.Object == nil || e.OSS.Object.Key == nil {
			return nil, fmt.Errorf("%w: message %s: event %d has no oss.object.key", ErrMalformed, msg.ID, i)
		}
		bucket := e.OSS.Bucket.Name
		if bucket == "" {
			bucket = d.Bucket
		}
		events = append(events, ChangeEvent{
			EventName: e.EventName,
			Bucket:    bucket,
			Key:       *e.OSS.Object.Key,
			Size:      e.OSS.Object.Size,
			ETag:      e.OSS.Object.ETag,
		})
	}
	return events, nil
}

// Encode builds a message body for events. It is the inverse of Decode and is used by tooling
// that publishes synthetic notifications.
func Encode(events []ChangeEvent) (string, error) {
	type object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
		ETag string `json:"eTag"`
	}
	type item struct {
		EventName string `json:"eventName"`
		OSS       struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object object `json:"object"`
		} `json:"oss"`
	}
	doc := struct {
		Events []item `json:"events"`
	}{Events: make([]item, 0, len(events))}
	for _, e := range events {
		var it item
		it.EventName = e.EventName
		it.OSS.Bucket.Name = e.Bucket
		it.OSS.Object = object{Key: e.Key, Size: e.Size, ETag: e.ETag}
		doc.Events = append(doc.Events, it)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode change events: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
