package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Formatter renders an event as one line of a chunk, newline included.
type Formatter interface {
	Format(tag string, ev Event) ([]byte, error)
}

// FormatterConfig selects and configures a built-in formatter.
type FormatterConfig struct {
	Type       string `yaml:"type"`
	MessageKey string `yaml:"message_key"`
	// TimeLayout is the Go layout used by out_file. Empty means RFC 3339.
	TimeLayout string `yaml:"time_layout"`
	Delimiter  string `yaml:"delimiter"`
}

// NewFormatter builds the formatter named by cfg.Type. An empty type selects "out_file".
func NewFormatter(cfg FormatterConfig) (Formatter, error) {
	switch cfg.Type {
	case "", "out_file":
		f := &OutFileFormatter{TimeLayout: cfg.TimeLayout, Delimiter: cfg.Delimiter}
		if f.TimeLayout == "" {
			f.TimeLayout = time.RFC3339
		}
		if f.Delimiter == "" {
			f.Delimiter = "\t"
		}
		return f, nil
	case "json":
		return JSONFormatter{}, nil
	case "single_value":
		key := cfg.MessageKey
		if key == "" {
			key = DefaultMessageKey
		}
		return &SingleValueFormatter{MessageKey: key}, nil
	default:
		return nil, fmt.Errorf("%w: formatter %q", ErrUnknownType, cfg.Type)
	}
}

// OutFileFormatter writes "<time><delim><tag><delim><json>".
type OutFileFormatter struct {
	TimeLayout string
	Delimiter  string
}

func (f *OutFileFormatter) Format(tag string, ev Event) ([]byte, error) {
	body, err := json.Marshal(ev.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to format record: %w", err)
	}
	out := make([]byte, 0, len(body)+len(tag)+40)
	out = append(out, ev.Time.Format(f.TimeLayout)...)
	out = append(out, f.Delimiter...)
	out = append(out, tag...)
	out = append(out, f.Delimiter...)
	out = append(out, body...)
	return append(out, '\n'), nil
}

// JSONFormatter writes the record as one JSON object per line.
type JSONFormatter struct{}

func (JSONFormatter) Format(_ string, ev Event) ([]byte, error) {
	body, err := json.Marshal(ev.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to format record: %w", err)
	}
	return append(body, '\n'), nil
}

// SingleValueFormatter writes one field of the record verbatim.
type SingleValueFormatter struct {
	MessageKey string
}

func (f *SingleValueFormatter) Format(_ string, ev Event) ([]byte, error) {
	v, ok := ev.Record[f.MessageKey]
	if !ok {
		return []byte("\n"), nil
	}
	return []byte(fmt.Sprint(v) + "\n"), nil
}
