package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMessageKey is the record field that holds an unparsed line.
const DefaultMessageKey = "message"

// Parser turns one line of an object into an event. ok is false for lines that yield no event.
type Parser interface {
	Parse(line string) (ev Event, ok bool, err error)
}

// ParserConfig selects and configures a built-in parser.
type ParserConfig struct {
	Type       string `yaml:"type"`
	MessageKey string `yaml:"message_key"`
	TimeKey    string `yaml:"time_key"`
	// TimeFormat is a Go time layout. Empty accepts RFC 3339 strings and epoch seconds.
	TimeFormat  string `yaml:"time_format"`
	KeepTimeKey bool   `yaml:"keep_time_key"`
}

// NewParser builds the parser named by cfg.Type. An empty type selects "none".
func NewParser(cfg ParserConfig, now func() time.Time) (Parser, error) {
	if now == nil {
		now = time.Now
	}
	switch cfg.Type {
	case "", "none":
		key := cfg.MessageKey
		if key == "" {
			key = DefaultMessageKey
		}
		return &NoneParser{MessageKey: key, Now: now}, nil
	case "json":
		return &JSONParser{TimeKey: cfg.TimeKey, TimeFormat: cfg.TimeFormat, KeepTimeKey: cfg.KeepTimeKey, Now: now}, nil
	default:
		return nil, fmt.Errorf("%w: parser %q", ErrUnknownType, cfg.Type)
	}
}

// NoneParser stores the whole line under MessageKey.
type NoneParser struct {
	MessageKey string
	Now        func() time.Time
}

func (p *NoneParser) Parse(line string) (Event, bool, error) {
	return Event{Time: p.Now(), Record: map[string]any{p.MessageKey: trimEOL(line)}}, true, nil
}

// JSONParser decodes each line as a JSON object. Blank lines yield no event.
type JSONParser struct {
	TimeKey     string
	TimeFormat  string
	KeepTimeKey bool
	Now         func() time.Time
}

func (p *JSONParser) Parse(line string) (Event, bool, error) {
	line = trimEOL(line)
	if strings.TrimSpace(line) == "" {
		return Event{}, false, nil
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return Event{}, false, fmt.Errorf("invalid JSON record: %w", err)
	}

	ts := p.Now()
	if p.TimeKey != "" {
		if raw, ok := rec[p.TimeKey]; ok {
			parsed, err := p.parseTime(raw)
			if err != nil {
				return Event{}, false, err
			}
			ts = parsed
			if !p.KeepTimeKey {
				delete(rec, p.TimeKey)
			}
		}
	}
	return Event{Time: ts, Record: rec}, true, nil
}

func (p *JSONParser) parseTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		sec := int64(v)
		return time.Unix(sec, int64((v-float64(sec))*float64(time.Second))).UTC(), nil
	case string:
		if p.TimeFormat != "" {
			t, err := time.Parse(p.TimeFormat, v)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid time %q for layout %q: %w", v, p.TimeFormat, err)
			}
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, nil
		}
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unrecognised time %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported time value of type %T", raw)
	}
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}
