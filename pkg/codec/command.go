package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// commandSpec describes a codec implemented by an external utility.
type commandSpec struct {
	desc             Descriptor
	binary           string
	label            string
	decompressParams string
	compressParams   string
	// gzipFallback retries in-process when the utility fails.
	gzipFallback bool
}

var (
	gzipCommandSpec = commandSpec{
		desc:             Descriptor{Name: "gzip_command", Kind: KindGzipCommand, Extension: "gz", ContentType: "application/x-gzip"},
		binary:           "gzip",
		label:            "gzip",
		decompressParams: "-dc",
		compressParams:   "",
		gzipFallback:     true,
	}
	lzoSpec = commandSpec{
		desc:             Descriptor{Name: "lzo", Kind: KindLZO, Extension: "lzo", ContentType: "application/x-lzop"},
		binary:           "lzop",
		label:            "LZO",
		decompressParams: "-qdc",
		compressParams:   "-qf1",
	}
	lzma2Spec = commandSpec{
		desc:             Descriptor{Name: "lzma2", Kind: KindLZMA2, Extension: "xz", ContentType: "application/x-xz"},
		binary:           "xz",
		label:            "LZMA2",
		decompressParams: "-qdc",
		compressParams:   "-qf0",
	}
)

type commandCodec struct {
	spec      commandSpec
	parameter *string
	tempDir   string
	logger    zerolog.Logger
}

func newCommand(spec commandSpec, opts Options) (*commandCodec, error) {
	if err := checkTool(spec.binary); err != nil {
		return nil, fmt.Errorf("%w: '%s' utility must be in PATH for %s compression: %v",
			ErrToolNotFound, spec.binary, spec.label, err)
	}
	spec.desc.Buffering = BufferLocal
	c := &commandCodec{
		spec:    spec,
		tempDir: opts.TempDir,
		logger:  opts.Logger.With().Str("component", "CommandCodec").Str("codec", spec.desc.Name).Logger(),
	}
	if opts.CommandParameter != "" {
		p := opts.CommandParameter
		c.parameter = &p
	}
	return c, nil
}

// checkTool runs "<binary> -V". Only a missing binary counts as failure.
func checkTool(binary string) error {
	path, err := exec.LookPath(binary)
	if err != nil {
		return err
	}
	err = exec.Command(path, "-V").Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}
	return nil
}

func (c *commandCodec) Descriptor() Descriptor { return c.spec.desc }

func (c *commandCodec) args(defaults string, extra ...string) []string {
	params := defaults
	if c.parameter != nil {
		params = *c.parameter
	}
	return append(strings.Fields(params), extra...)
}

// Decompress runs the utility over the file behind src. In-memory sources are staged to a
// temporary file first. Output is spooled to a temporary file removed when the reader is closed.
func (c *commandCodec) Decompress(ctx context.Context, src Source) (io.ReadCloser, error) {
	path := src.Name()
	if path == "" {
		staged, err := c.stage(func(w io.Writer) error {
			_, err := io.Copy(w, src)
			return err
		})
		if err != nil {
			return nil, err
		}
		defer removeQuietly(staged)
		path = staged
	}

	out, err := os.CreateTemp(c.tempDir, "chunk-"+c.spec.desc.Name+"-in-")
	if err != nil {
		return nil, fmt.Errorf("failed to create decompression output: %w", err)
	}

	runErr := c.run(ctx, out, c.args(c.spec.decompressParams, path)...)
	if runErr == nil {
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			_ = fileReadCloser{out}.Close()
			return nil, err
		}
		return fileReadCloser{out}, nil
	}
	_ = fileReadCloser{out}.Close()

	if !c.spec.gzipFallback {
		return nil, runErr
	}
	c.logger.Warn().Err(runErr).Msg("Failed to execute gzip command, falling back to in-process gzip.")
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind source for gzip fallback: %w", err)
	}
	return gunzip(src)
}

// Compress runs the utility over the chunk file and writes its output to dst. src may be written
// more than once: once to stage it and again by the gzip fallback.
func (c *commandCodec) Compress(ctx context.Context, src io.WriterTo, dst *os.File) error {
	path := ""
	if pc, ok := src.(PathChunk); ok {
		path = pc.Path()
	}
	if path == "" {
		staged, err := c.stage(func(w io.Writer) error {
			_, err := src.WriteTo(w)
			return err
		})
		if err != nil {
			return err
		}
		defer removeQuietly(staged)
		path = staged
	}

	runErr := c.run(ctx, dst, c.args(c.spec.compressParams, "-c", path)...)
	if runErr == nil {
		return nil
	}
	if !c.spec.gzipFallback {
		c.logger.Warn().Err(runErr).Msg("Failed to execute compression command.")
		return runErr
	}

	c.logger.Warn().Err(runErr).Msg("Failed to execute gzip command, falling back to in-process gzip.")
	if err := dst.Truncate(0); err != nil {
		return fmt.Errorf("failed to reset output for gzip fallback: %w", err)
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reset output for gzip fallback: %w", err)
	}
	return gzipTo(src, dst)
}

func (c *commandCodec) run(ctx context.Context, stdout io.Writer, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.spec.binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s %s: %v: %s", ErrToolFailed, c.spec.binary, strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c *commandCodec) stage(write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(c.tempDir, "chunk-"+c.spec.desc.Name+"-out-")
	if err != nil {
		return "", fmt.Errorf("failed to stage chunk: %w", err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		removeQuietly(f.Name())
		return "", fmt.Errorf("failed to stage chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		removeQuietly(f.Name())
		return "", fmt.Errorf("failed to stage chunk: %w", err)
	}
	return f.Name(), nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
