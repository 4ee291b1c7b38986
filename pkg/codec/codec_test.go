package codec_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/illmade-knight/go-ossflow/pkg/codec"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bytesChunk can be written any number of times.
type bytesChunk []byte

func (b bytesChunk) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b)
	return int64(n), err
}

const sample = "line one\nline two\n{\"k\":\"v\"}\n"

func compressToFile(t *testing.T, c codec.Compressor, content string) *os.File {
	t.Helper()
	out, err := os.CreateTemp(t.TempDir(), "compressed-")
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })

	require.NoError(t, c.Compress(context.Background(), bytesChunk(content), out))
	_, err = out.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return out
}

func readAllAndClose(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer func() { require.NoError(t, rc.Close()) }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available in PATH", name)
	}
}

func TestRegistry_BuiltinDescriptors(t *testing.T) {
	decompressors := codec.NewDecompressorRegistry()

	testCases := []struct {
		name        string
		kind        codec.Kind
		ext         string
		contentType string
	}{
		{name: "gzip", kind: codec.KindGzip, ext: "gz", contentType: "application/x-gzip"},
		{name: "text", kind: codec.KindText, ext: "txt", contentType: "text/plain"},
		{name: "json", kind: codec.KindJSON, ext: "json", contentType: "application/json"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := decompressors.Lookup(tc.name, codec.Options{StoreLocal: true})
			require.NoError(t, err)
			desc := d.Descriptor()
			assert.Equal(t, tc.kind, desc.Kind)
			assert.Equal(t, tc.ext, desc.Extension)
			assert.Equal(t, tc.contentType, desc.ContentType)
			assert.Equal(t, codec.BufferLocal, desc.Buffering)
		})
	}

	d, err := decompressors.Lookup("gzip", codec.Options{StoreLocal: false})
	require.NoError(t, err)
	assert.Equal(t, codec.BufferInMemory, d.Descriptor().Buffering)
	assert.Equal(t, []string{"gzip", "gzip_command", "json", "lzma2", "lzo", "text"}, decompressors.Names())
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := codec.NewDecompressorRegistry().Lookup("snappy", codec.Options{})
	require.ErrorIs(t, err, codec.ErrUnsupported)
}

func TestRegistry_RegisterAtRuntime(t *testing.T) {
	// Arrange
	reg := codec.NewDecompressorRegistry()
	called := false
	reg.Register("text", func(o codec.Options) (codec.Decompressor, error) {
		called = true
		return codec.NewDecompressorRegistry().Lookup("json", o)
	})

	// Act
	d, err := reg.Lookup("text", codec.Options{})

	// Assert
	require.NoError(t, err)
	assert.True(t, called, "last registration should win")
	assert.Equal(t, codec.KindJSON, d.Descriptor().Kind)
}

func TestLookupCompressorOrText(t *testing.T) {
	reg := codec.NewCompressorRegistry()

	c, err := codec.LookupCompressorOrText(reg, "brotli", codec.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, codec.KindText, c.Descriptor().Kind)
	assert.Equal(t, "txt", c.Descriptor().Extension)

	c, err = codec.LookupCompressorOrText(reg, "gzip", codec.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, codec.KindGzip, c.Descriptor().Kind)
}

func TestGzip_RoundTrip(t *testing.T) {
	// Arrange
	c, err := codec.NewCompressorRegistry().Lookup("gzip", codec.Options{})
	require.NoError(t, err)
	d, err := codec.NewDecompressorRegistry().Lookup("gzip", codec.Options{})
	require.NoError(t, err)

	// Act
	out := compressToFile(t, c, sample)
	rc, err := d.Decompress(context.Background(), out)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, sample, readAllAndClose(t, rc))
}

func TestGzip_ConcatenatedMembers(t *testing.T) {
	c, err := codec.NewCompressorRegistry().Lookup("gzip", codec.Options{})
	require.NoError(t, err)
	first := compressToFile(t, c, "a\n")
	second := compressToFile(t, c, "b\n")
	var joined bytes.Buffer
	_, _ = io.Copy(&joined, first)
	_, _ = io.Copy(&joined, second)

	d, err := codec.NewDecompressorRegistry().Lookup("gzip", codec.Options{})
	require.NoError(t, err)
	rc, err := d.Decompress(context.Background(), codec.NewMemorySource(joined.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", readAllAndClose(t, rc))
}

func TestGzip_CorruptInput(t *testing.T) {
	d, err := codec.NewDecompressorRegistry().Lookup("gzip", codec.Options{})
	require.NoError(t, err)

	_, err = d.Decompress(context.Background(), codec.NewMemorySource([]byte("not gzip at all")))
	require.Error(t, err)
}

func TestText_Passthrough(t *testing.T) {
	c, err := codec.NewCompressorRegistry().Lookup("text", codec.Options{})
	require.NoError(t, err)
	out := compressToFile(t, c, sample)

	d, err := codec.NewDecompressorRegistry().Lookup("json", codec.Options{})
	require.NoError(t, err)
	rc, err := d.Decompress(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, sample, readAllAndClose(t, rc))
}

func TestCommandCodecs_RoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		binary string
		ext    string
	}{
		{name: "gzip_command", binary: "gzip", ext: "gz"},
		{name: "lzo", binary: "lzop", ext: "lzo"},
		{name: "lzma2", binary: "xz", ext: "xz"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			requireBinary(t, tc.binary)
			opts := codec.Options{TempDir: t.TempDir(), Logger: zerolog.Nop()}

			// Arrange
			c, err := codec.NewCompressorRegistry().Lookup(tc.name, opts)
			require.NoError(t, err)
			d, err := codec.NewDecompressorRegistry().Lookup(tc.name, opts)
			require.NoError(t, err)
			assert.Equal(t, codec.BufferLocal, d.Descriptor().Buffering)
			assert.Equal(t, tc.ext, c.Descriptor().Extension)

			// Act
			out := compressToFile(t, c, sample)
			fromFile, err := d.Decompress(context.Background(), out)
			require.NoError(t, err)
			_, err = out.Seek(0, io.SeekStart)
			require.NoError(t, err)
			raw, err := io.ReadAll(out)
			require.NoError(t, err)
			fromMemory, err := d.Decompress(context.Background(), codec.NewMemorySource(raw))
			require.NoError(t, err)

			// Assert
			assert.Equal(t, sample, readAllAndClose(t, fromFile))
			assert.Equal(t, sample, readAllAndClose(t, fromMemory))
			entries, err := os.ReadDir(opts.TempDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "temporary files must be removed")
		})
	}
}

func TestGzipCommand_FallsBackToInProcess(t *testing.T) {
	requireBinary(t, "gzip")
	opts := codec.Options{CommandParameter: "--no-such-flag", TempDir: t.TempDir(), Logger: zerolog.Nop()}

	c, err := codec.NewCompressorRegistry().Lookup("gzip_command", opts)
	require.NoError(t, err)
	out := compressToFile(t, c, sample)

	d, err := codec.NewDecompressorRegistry().Lookup("gzip_command", opts)
	require.NoError(t, err)
	rc, err := d.Decompress(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, sample, readAllAndClose(t, rc))
}

func TestLZMA2_FailureIsReported(t *testing.T) {
	requireBinary(t, "xz")
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.xz")
	require.NoError(t, os.WriteFile(path, []byte("definitely not xz"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	d, err := codec.NewDecompressorRegistry().Lookup("lzma2", codec.Options{TempDir: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = d.Decompress(context.Background(), f)

	require.ErrorIs(t, err, codec.ErrToolFailed)
}

func TestCommandCodec_MissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := codec.NewDecompressorRegistry().Lookup("lzo", codec.Options{})

	require.ErrorIs(t, err, codec.ErrToolNotFound)
}
