// Package record holds the event type passed between the pipeline stages and the small set of
// built-in line parsers and chunk formatters.
package record

import (
	"errors"
	"time"
)

// ErrUnknownType is returned for a parser or formatter type that is not built in.
var ErrUnknownType = errors.New("unknown record type")

// Event is one timestamped record.
type Event struct {
	Time   time.Time
	Record map[string]any
}
