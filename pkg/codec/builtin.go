package codec

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

var (
	textDescriptor = Descriptor{Name: "text", Kind: KindText, Extension: "txt", ContentType: "text/plain"}
	jsonDescriptor = Descriptor{Name: "json", Kind: KindJSON, Extension: "json", ContentType: "application/json"}
	gzipDescriptor = Descriptor{Name: "gzip", Kind: KindGzip, Extension: "gz", ContentType: "application/x-gzip"}
)

// plainCodec passes content through untouched.
type plainCodec struct {
	desc Descriptor
}

func newPlain(desc Descriptor, opts Options) *plainCodec {
	desc.Buffering = opts.buffering()
	return &plainCodec{desc: desc}
}

func (p *plainCodec) Descriptor() Descriptor { return p.desc }

func (p *plainCodec) Decompress(_ context.Context, src Source) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

func (p *plainCodec) Compress(_ context.Context, src io.WriterTo, dst *os.File) error {
	if _, err := src.WriteTo(dst); err != nil {
		return fmt.Errorf("failed to write %s chunk: %w", p.desc.Name, err)
	}
	return nil
}

type gzipCodec struct {
	desc Descriptor
}

func newGzip(opts Options) *gzipCodec {
	desc := gzipDescriptor
	desc.Buffering = opts.buffering()
	return &gzipCodec{desc: desc}
}

func (g *gzipCodec) Descriptor() Descriptor { return g.desc }

// Decompress reads every gzip member in src, so concatenated archives expand fully.
func (g *gzipCodec) Decompress(_ context.Context, src Source) (io.ReadCloser, error) {
	return gunzip(src)
}

func (g *gzipCodec) Compress(_ context.Context, src io.WriterTo, dst *os.File) error {
	return gzipTo(src, dst)
}

func gunzip(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return zr, nil
}

func gzipTo(src io.WriterTo, dst io.Writer) error {
	zw := gzip.NewWriter(dst)
	if _, err := src.WriteTo(zw); err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to gzip chunk: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}
