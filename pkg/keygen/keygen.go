// Package keygen builds collision-safe object keys for written chunks from a key_format template.
package keygen

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-ossflow/pkg/cache"
	"github.com/rs/zerolog"
)

const (
	// DefaultKeyFormat is used when key_format is not set and objects are checked.
	DefaultKeyFormat = "%{path}/%{time_slice}_%{index}_%{thread_id}.%{file_extension}"
	// DefaultNoCheckKeyFormat is used when key_format is not set and objects are not checked.
	DefaultNoCheckKeyFormat = "%{path}/%{time_slice}_%{hms_slice}_%{thread_id}.%{file_extension}"
	// MaxHexRandomLength bounds hex_random_length.
	MaxHexRandomLength = 16

	defaultHexRandomLength = 4
	defaultIndexFormat     = "%d"
)

var (
	// ErrInvalidFormat is returned for an unusable key generation setting.
	ErrInvalidFormat = errors.New("invalid key format")
	// ErrDuplicateKey is returned when the template cannot produce a fresh key for a chunk.
	ErrDuplicateKey = errors.New("duplicated path is generated, use %{index} in key_format")

	indexFormatPattern = regexp.MustCompile(`^%(0\d*)?[dxX]$`)
	keyPlaceholder     = regexp.MustCompile(`%\{[^}]+\}`)
	chunkPlaceholder   = regexp.MustCompile(`\$\{([^}\[]+)(?:\[(-?\d+)\])?\}`)
)

// Config controls key generation.
type Config struct {
	Path      string
	KeyFormat string
	// CheckObject queries the bucket and increments %{index} until the key is unused.
	CheckObject bool
	// Overwrite accepts an existing key instead of failing when no fresh key can be made.
	Overwrite       bool
	HexRandomLength int
	IndexFormat     string
	// TimeSliceFormat is a strftime layout. Empty derives it from Timekey.
	TimeSliceFormat string
	Timekey         time.Duration
	LocalTime       bool
	// Extension is the file extension of the active compressor.
	Extension string
}

// Chunk identifies one in-flight batch of records.
type Chunk struct {
	ID []byte
	// Timekey is the start of the chunk's time bucket. Zero means the chunk has none.
	Timekey   time.Time
	Tag       string
	Variables map[string]string
}

// KeyContext holds the random components of a chunk's key. It survives failed writes so a retry
// of the same chunk differs only in its index.
type KeyContext struct {
	HexRandom string `json:"hexRandom"`
	UUID      string `json:"uuid,omitempty"`
}

// ObjectChecker reports whether a key is already taken.
type ObjectChecker interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// Generator produces object keys. It is safe for concurrent use by writers of distinct chunks.
type Generator struct {
	cfg         Config
	keyFormat   string
	uuidEnabled bool
	checker     ObjectChecker
	contexts    cache.PresenceCache[string, KeyContext]
	now         func() time.Time
	logger      zerolog.Logger
}

// New validates cfg and returns a Generator. contexts stores per-chunk key contexts; a nil
// store selects an in-memory one.
func New(cfg Config, checker ObjectChecker, contexts cache.PresenceCache[string, KeyContext], logger zerolog.Logger) (*Generator, error) {
	if cfg.HexRandomLength == 0 {
		cfg.HexRandomLength = defaultHexRandomLength
	}
	if cfg.HexRandomLength < 1 || cfg.HexRandomLength > MaxHexRandomLength {
		return nil, fmt.Errorf("%w: hex_random_length must be between 1 and %d, got %d",
			ErrInvalidFormat, MaxHexRandomLength, cfg.HexRandomLength)
	}
	if cfg.IndexFormat == "" {
		cfg.IndexFormat = defaultIndexFormat
	}
	if !indexFormatPattern.MatchString(cfg.IndexFormat) {
		return nil, fmt.Errorf("%w: index_format %q should follow %%[flags][width]type, "+
			"0 is the only supported flag and is mandatory with a width, d, x and X are supported types",
			ErrInvalidFormat, cfg.IndexFormat)
	}
	if cfg.CheckObject && checker == nil {
		return nil, fmt.Errorf("%w: check_object requires an object checker", ErrInvalidFormat)
	}
	if contexts == nil {
		contexts = cache.NewInMemoryPresenceCache[string, KeyContext]()
	}

	logger = logger.With().Str("component", "KeyGenerator").Logger()
	keyFormat := cfg.KeyFormat
	if !cfg.CheckObject {
		if keyFormat != "" {
			logger.Warn().Str("key_format", keyFormat).
				Msg("check_object is off and key_format is set; keys must be unique per write or objects will be overwritten.")
		} else {
			keyFormat = DefaultNoCheckKeyFormat
			logger.Warn().Str("key_format", keyFormat).Msg("check_object is off and key_format is unset.")
		}
	} else if keyFormat == "" {
		keyFormat = DefaultKeyFormat
	}
	if cfg.TimeSliceFormat == "" {
		cfg.TimeSliceFormat = TimeSliceFormat(cfg.Timekey)
	}

	return &Generator{
		cfg:         cfg,
		keyFormat:   keyFormat,
		uuidEnabled: strings.Contains(keyFormat, "%{uuid_flush}"),
		checker:     checker,
		contexts:    contexts,
		now:         time.Now,
		logger:      logger,
	}, nil
}

// WithClock replaces the clock used for %{hms_slice}.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// KeyFormat returns the effective template.
func (g *Generator) KeyFormat() string { return g.keyFormat }

// Generate returns the key chunk should be written under, reported by workerID.
func (g *Generator) Generate(ctx context.Context, chunk Chunk, workerID string) (string, error) {
	kc, err := g.keyContext(ctx, chunk)
	if err != nil {
		return "", err
	}

	values := map[string]string{
		"%{path}":           g.cfg.Path,
		"%{thread_id}":      workerID,
		"%{file_extension}": g.cfg.Extension,
		"%{time_slice}":     g.timeSlice(chunk),
		"%{hex_random}":     kc.HexRandom,
	}
	if g.uuidEnabled {
		values["%{uuid_flush}"] = kc.UUID
	}

	if !g.cfg.CheckObject {
		values["%{hms_slice}"] = Strftime("%H%M%S", g.zone(g.now()))
		return g.render(chunk, values), nil
	}

	// Every candidate is remembered, so a template that repeats any earlier key is caught.
	tried := make(map[string]struct{})
	for index := 0; ; index++ {
		values["%{index}"] = fmt.Sprintf(g.cfg.IndexFormat, index)
		key := g.render(chunk, values)
		if _, seen := tried[key]; seen {
			if g.cfg.Overwrite {
				g.logger.Warn().Str("key", key).Msg("Key already exists, but will overwrite.")
				return key, nil
			}
			return "", fmt.Errorf("%w: path = %s", ErrDuplicateKey, key)
		}
		tried[key] = struct{}{}

		exists, err := g.checker.ObjectExists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to check object %s: %w", key, err)
		}
		if !exists {
			return key, nil
		}
	}
}

// Release forgets the key context of a chunk after it was written successfully.
func (g *Generator) Release(ctx context.Context, chunkID []byte) error {
	return g.contexts.Delete(ctx, hex.EncodeToString(chunkID))
}

func (g *Generator) keyContext(ctx context.Context, chunk Chunk) (KeyContext, error) {
	id := hex.EncodeToString(chunk.ID)
	if id == "" {
		return KeyContext{}, errors.New("chunk id is required")
	}
	kc := KeyContext{HexRandom: hexRandom(id, g.cfg.HexRandomLength)}
	if g.uuidEnabled {
		u, err := uuid.NewRandom()
		if err != nil {
			return KeyContext{}, fmt.Errorf("failed to generate uuid: %w", err)
		}
		kc.UUID = u.String()
	}
	held, err := g.contexts.SetIfAbsent(ctx, id, kc)
	if err != nil {
		return KeyContext{}, fmt.Errorf("failed to load key context for chunk %s: %w", id, err)
	}
	return held, nil
}

// hexRandom reverses the hex chunk id, whose leading digits vary least, and truncates it.
func hexRandom(hexID string, length int) string {
	b := []byte(hexID)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	if len(b) > length {
		b = b[:length]
	}
	return string(b)
}

func (g *Generator) zone(t time.Time) time.Time {
	if g.cfg.LocalTime {
		return t.Local()
	}
	return t.UTC()
}

func (g *Generator) timeSlice(chunk Chunk) string {
	if chunk.Timekey.IsZero() {
		return ""
	}
	return Strftime(g.cfg.TimeSliceFormat, g.zone(chunk.Timekey))
}

// render substitutes key placeholders, then chunk placeholders and time directives, then key
// placeholders once more for any the chunk placeholders introduced.
func (g *Generator) render(chunk Chunk, values map[string]string) string {
	replace := func(s string) string {
		return keyPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
			if v, ok := values[m]; ok {
				return v
			}
			return m
		})
	}
	key := replace(g.keyFormat)
	key = g.extractPlaceholders(key, chunk)
	return replace(key)
}

func (g *Generator) extractPlaceholders(s string, chunk Chunk) string {
	s = chunkPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := chunkPlaceholder.FindStringSubmatch(m)
		name, idx := parts[1], parts[2]
		if name == "tag" {
			if idx == "" {
				return chunk.Tag
			}
			n, _ := strconv.Atoi(idx)
			tagParts := strings.Split(chunk.Tag, ".")
			if n < 0 {
				n += len(tagParts)
			}
			if n < 0 || n >= len(tagParts) {
				return m
			}
			return tagParts[n]
		}
		if v, ok := chunk.Variables[name]; ok && idx == "" {
			return v
		}
		return m
	})
	if !chunk.Timekey.IsZero() {
		s = Strftime(s, g.zone(chunk.Timekey))
	}
	return s
}
