package egress

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
)

// Chunk is a buffered batch of formatted records sharing a tag and a time bucket.
// WriteTo may be called any number of times; compressors with a fallback path rely on that.
type Chunk struct {
	id        []byte
	Tag       string
	Timekey   time.Time
	Variables map[string]string

	lines [][]byte
	size  int64
}

// NewChunk creates an empty chunk with a fresh, time-ordered identifier.
func NewChunk(tag string, timekey time.Time, variables map[string]string) *Chunk {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Chunk{
		id:        id[:],
		Tag:       tag,
		Timekey:   timekey,
		Variables: variables,
	}
}

// ID returns the chunk's unique identifier.
func (c *Chunk) ID() []byte { return c.id }

// Append adds one formatted record.
func (c *Chunk) Append(line []byte) {
	c.lines = append(c.lines, line)
	c.size += int64(len(line))
}

// Len is the number of records held.
func (c *Chunk) Len() int { return len(c.lines) }

// Size is the number of bytes WriteTo will produce.
func (c *Chunk) Size() int64 { return c.size }

// WriteTo writes every record to w in append order.
func (c *Chunk) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range c.lines {
		n, err := w.Write(line)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Chunk) keyChunk() keygen.Chunk {
	return keygen.Chunk{
		ID:        c.id,
		Timekey:   c.Timekey,
		Tag:       c.Tag,
		Variables: c.Variables,
	}
}
