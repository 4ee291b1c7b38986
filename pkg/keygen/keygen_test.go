package keygen_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-ossflow/pkg/cache"
	"github.com/illmade-knight/go-ossflow/pkg/keygen"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChecker reports the keys in existing as taken and records every key it was asked about.
type mockChecker struct {
	sync.Mutex
	existing map[string]bool
	checked  []string
	err      error
}

func (m *mockChecker) ObjectExists(_ context.Context, key string) (bool, error) {
	m.Lock()
	defer m.Unlock()
	m.checked = append(m.checked, key)
	if m.err != nil {
		return false, m.err
	}
	return m.existing[key], nil
}

var (
	testChunkID = []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}
	testTimekey = time.Date(2024, 7, 9, 13, 0, 0, 0, time.UTC)
)

func newGenerator(t *testing.T, cfg keygen.Config, checker keygen.ObjectChecker) *keygen.Generator {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = "fluent/logs"
	}
	if cfg.Extension == "" {
		cfg.Extension = "gz"
	}
	g, err := keygen.New(cfg, checker, nil, zerolog.Nop())
	require.NoError(t, err)
	return g
}

func TestGenerate_CheckObjectSkipsExistingKeys(t *testing.T) {
	// Arrange
	checker := &mockChecker{existing: map[string]bool{
		"fluent/logs/20240709_0_w1.gz": true,
		"fluent/logs/20240709_1_w1.gz": true,
	}}
	g := newGenerator(t, keygen.Config{CheckObject: true, Timekey: 24 * time.Hour}, checker)

	// Act
	key, err := g.Generate(context.Background(), keygen.Chunk{ID: testChunkID, Timekey: testTimekey}, "w1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "fluent/logs/20240709_2_w1.gz", key)
	assert.Len(t, checker.checked, 3, "no check beyond the first free index")
}

func TestGenerate_DuplicateKey(t *testing.T) {
	existing := map[string]bool{"fluent/logs/static.gz": true}

	t.Run("fails without overwrite", func(t *testing.T) {
		checker := &mockChecker{existing: existing}
		g := newGenerator(t, keygen.Config{CheckObject: true, KeyFormat: "%{path}/static.%{file_extension}"}, checker)
		_, err := g.Generate(context.Background(), keygen.Chunk{ID: testChunkID}, "w1")
		require.ErrorIs(t, err, keygen.ErrDuplicateKey)
		assert.Len(t, checker.checked, 1, "a repeated candidate is detected before checking it again")
	})

	t.Run("accepts with overwrite", func(t *testing.T) {
		checker := &mockChecker{existing: existing}
		g := newGenerator(t, keygen.Config{CheckObject: true, Overwrite: true, KeyFormat: "%{path}/static.%{file_extension}"}, checker)
		key, err := g.Generate(context.Background(), keygen.Chunk{ID: testChunkID}, "w1")
		require.NoError(t, err)
		assert.Equal(t, "fluent/logs/static.gz", key)
	})
}

func TestGenerate_NoCheckUsesHmsSlice(t *testing.T) {
	// Arrange
	checker := &mockChecker{}
	g := newGenerator(t, keygen.Config{CheckObject: false, Timekey: time.Hour}, checker)
	g.WithClock(func() time.Time { return time.Date(2024, 7, 9, 13, 5, 6, 0, time.UTC) })

	// Act
	key, err := g.Generate(context.Background(), keygen.Chunk{ID: testChunkID, Timekey: testTimekey}, "w2")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, keygen.DefaultNoCheckKeyFormat, g.KeyFormat())
	assert.Equal(t, "fluent/logs/20240709-13_130506_w2.gz", key)
	assert.Empty(t, checker.checked)
}

func TestGenerate_Placeholders(t *testing.T) {
	// Arrange
	g := newGenerator(t, keygen.Config{
		CheckObject:     true,
		KeyFormat:       "${tag[1]}/%Y/%m/%d/${host}/%{time_slice}-%{index}-%{hex_random}.%{file_extension}",
		IndexFormat:     "%03d",
		HexRandomLength: 6,
		TimeSliceFormat: "%H%M",
	}, &mockChecker{})
	chunk := keygen.Chunk{
		ID:        testChunkID,
		Timekey:   testTimekey,
		Tag:       "app.web.access",
		Variables: map[string]string{"host": "node-7"},
	}

	// Act
	key, err := g.Generate(context.Background(), chunk, "w1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "web/2024/07/09/node-7/1300-000-fedcba.gz", key)
}

func TestGenerate_RandomComponentsStableAcrossRetries(t *testing.T) {
	// Arrange
	checker := &mockChecker{existing: map[string]bool{}}
	g := newGenerator(t, keygen.Config{CheckObject: true, KeyFormat: "%{path}/%{uuid_flush}_%{index}.%{file_extension}"}, checker)
	chunk := keygen.Chunk{ID: testChunkID}

	// Act
	first, err := g.Generate(context.Background(), chunk, "w1")
	require.NoError(t, err)
	checker.existing[first] = true
	second, err := g.Generate(context.Background(), chunk, "w1")
	require.NoError(t, err)

	// Assert
	assert.NotEqual(t, first, second)
	assert.Equal(t, first[:len(first)-len("0.gz")], second[:len(second)-len("1.gz")], "only the index may change")

	require.NoError(t, g.Release(context.Background(), chunk.ID))
	third, err := g.Generate(context.Background(), keygen.Chunk{ID: chunk.ID}, "w1")
	require.NoError(t, err)
	assert.NotEqual(t, first[:20], third[:20], "a released chunk gets a fresh uuid")
}

func TestGenerate_SharedContextStore(t *testing.T) {
	store := cache.NewInMemoryPresenceCache[string, keygen.KeyContext]()
	cfg := keygen.Config{Path: "p", Extension: "gz", CheckObject: true, KeyFormat: "%{path}/%{uuid_flush}.%{file_extension}"}
	a, err := keygen.New(cfg, &mockChecker{}, store, zerolog.Nop())
	require.NoError(t, err)
	b, err := keygen.New(cfg, &mockChecker{}, store, zerolog.Nop())
	require.NoError(t, err)

	ka, err := a.Generate(context.Background(), keygen.Chunk{ID: testChunkID}, "w1")
	require.NoError(t, err)
	kb, err := b.Generate(context.Background(), keygen.Chunk{ID: testChunkID}, "w1")
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.Equal(t, 1, store.Len())
}

func TestGenerate_CheckerError(t *testing.T) {
	boom := errors.New("network down")
	g := newGenerator(t, keygen.Config{CheckObject: true}, &mockChecker{err: boom})

	_, err := g.Generate(context.Background(), keygen.Chunk{ID: testChunkID}, "w1")

	require.ErrorIs(t, err, boom)
}

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name string
		cfg  keygen.Config
	}{
		{name: "hex random too long", cfg: keygen.Config{HexRandomLength: 17}},
		{name: "index format with flag", cfg: keygen.Config{IndexFormat: "%-3d"}},
		{name: "index format width without zero", cfg: keygen.Config{IndexFormat: "%3d"}},
		{name: "index format type", cfg: keygen.Config{IndexFormat: "%s"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := keygen.New(tc.cfg, &mockChecker{}, nil, zerolog.Nop())
			require.ErrorIs(t, err, keygen.ErrInvalidFormat)
		})
	}

	for _, ok := range []string{"%d", "%x", "%X", "%05d", "%0x"} {
		_, err := keygen.New(keygen.Config{IndexFormat: ok}, &mockChecker{}, nil, zerolog.Nop())
		assert.NoError(t, err, ok)
	}
}

func TestTimeSliceFormat(t *testing.T) {
	assert.Equal(t, "%Y%m%d-%H_%M_%S", keygen.TimeSliceFormat(30*time.Second))
	assert.Equal(t, "%Y%m%d-%H_%M", keygen.TimeSliceFormat(time.Minute))
	assert.Equal(t, "%Y%m%d-%H", keygen.TimeSliceFormat(time.Hour))
	assert.Equal(t, "%Y%m%d", keygen.TimeSliceFormat(24*time.Hour))
}

func TestStrftime(t *testing.T) {
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	assert.Equal(t, "2024-02-03 04:05:06 24 034 100%", keygen.Strftime("%Y-%m-%d %H:%M:%S %y %j 100%%", ts))
	assert.Equal(t, "%{index}_%q", keygen.Strftime("%{index}_%q", ts))
}

func TestStrftime_Directives(t *testing.T) {
	ts := time.Date(2024, 7, 9, 13, 5, 6, 250*int(time.Millisecond), time.UTC)

	testCases := []struct {
		format string
		want   string
	}{
		{format: "%F", want: "2024-07-09"},
		{format: "%T", want: "13:05:06"},
		{format: "%L", want: "250"},
		{format: "%a %A", want: "Tue Tuesday"},
		{format: "%b %B", want: "Jul July"},
		{format: "%I%p", want: "01PM"},
		{format: "%F/%{index}/%T.%L", want: "2024-07-09/%{index}/13:05:06.250"},
		{format: "%{path}%{time_slice}", want: "%{path}%{time_slice}"},
	}
	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			assert.Equal(t, tc.want, keygen.Strftime(tc.format, ts))
		})
	}
}

func TestGenerate_TimeSliceFormatDirectives(t *testing.T) {
	// Arrange
	checker := &mockChecker{}
	g := newGenerator(t, keygen.Config{CheckObject: true, TimeSliceFormat: "%F_%T"}, checker)

	// Act
	key, err := g.Generate(context.Background(), keygen.Chunk{ID: testChunkID, Timekey: testTimekey}, "w1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "fluent/logs/2024-07-09_13:00:00_0_w1.gz", key)
}
