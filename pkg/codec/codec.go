// Package codec holds the named compression codecs used to read objects from and write chunks to
// object storage. Built-in codecs run in-process; the command codecs shell out to gzip, lzop and xz.
package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
)

var (
	// ErrUnsupported is returned by a registry for a codec name it does not know.
	ErrUnsupported = errors.New("unsupported codec")
	// ErrToolNotFound is returned at configure time when an external codec binary is missing.
	ErrToolNotFound = errors.New("codec utility not found in PATH")
	// ErrToolFailed is returned when an external codec exits unsuccessfully.
	ErrToolFailed = errors.New("codec utility failed")
)

// Kind identifies the family of a codec.
type Kind int

const (
	KindText Kind = iota
	KindJSON
	KindGzip
	KindGzipCommand
	KindLZO
	KindLZMA2
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	case KindGzip:
		return "gzip"
	case KindGzipCommand:
		return "gzip_command"
	case KindLZO:
		return "lzo"
	case KindLZMA2:
		return "lzma2"
	default:
		return "custom"
	}
}

// Buffering says where an object must be staged before a codec can read it.
type Buffering int

const (
	BufferInMemory Buffering = iota
	// BufferLocal stages the object in a temporary file. External codecs always need this.
	BufferLocal
)

// Descriptor is the static description of a codec.
type Descriptor struct {
	Name        string
	Kind        Kind
	Extension   string
	ContentType string
	Buffering   Buffering
}

// Source is a seekable compressed input. Name returns the backing file path, or "" when the
// source lives in memory.
type Source interface {
	io.ReadSeeker
	Name() string
}

// PathChunk is implemented by chunks that are already backed by a file on disk.
type PathChunk interface {
	Path() string
}

// Decompressor expands a compressed object into a stream of text.
type Decompressor interface {
	Descriptor() Descriptor
	// Decompress returns the expanded content. The caller must close it.
	Decompress(ctx context.Context, src Source) (io.ReadCloser, error)
}

// Compressor writes a chunk into dst in the codec's format.
type Compressor interface {
	Descriptor() Descriptor
	Compress(ctx context.Context, src io.WriterTo, dst *os.File) error
}

// Options configures a codec instance.
type Options struct {
	// StoreLocal selects BufferLocal for the in-process codecs.
	StoreLocal bool
	// CommandParameter overrides the default flags of an external codec.
	CommandParameter string
	// TempDir is where per-call temporary files are created. Empty means os.TempDir().
	TempDir string
	Logger  zerolog.Logger
}

func (o Options) buffering() Buffering {
	if o.StoreLocal {
		return BufferLocal
	}
	return BufferInMemory
}

type memorySource struct {
	*bytes.Reader
}

func (memorySource) Name() string { return "" }

// NewMemorySource wraps b as an in-memory Source.
func NewMemorySource(b []byte) Source {
	return memorySource{Reader: bytes.NewReader(b)}
}

// fileReadCloser removes its backing temporary file when closed.
type fileReadCloser struct {
	*os.File
}

func (f fileReadCloser) Close() error {
	err := f.File.Close()
	if rmErr := os.Remove(f.File.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
