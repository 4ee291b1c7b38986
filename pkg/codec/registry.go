package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a configured codec. It performs configure-time checks such as probing for an
// external binary.
type Factory[T any] func(opts Options) (T, error)

// Registry maps codec names to factories. It is safe for concurrent use and extensible at runtime.
type Registry[T any] struct {
	mu        sync.RWMutex
	role      string
	factories map[string]Factory[T]
}

// NewRegistry creates an empty registry. role names the codec direction in error messages.
func NewRegistry[T any](role string) *Registry[T] {
	return &Registry[T]{role: role, factories: make(map[string]Factory[T])}
}

// Register adds or replaces the factory for name.
func (r *Registry[T]) Register(name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Lookup builds the codec registered under name.
func (r *Registry[T]) Lookup(name string, opts Options) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrUnsupported, r.role, name)
	}
	return factory(opts)
}

// Names lists the registered codec names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDecompressorRegistry returns a registry holding the built-in and command decompressors.
func NewDecompressorRegistry() *Registry[Decompressor] {
	r := NewRegistry[Decompressor]("decompressor")
	r.Register("gzip", func(o Options) (Decompressor, error) { return newGzip(o), nil })
	r.Register("text", func(o Options) (Decompressor, error) { return newPlain(textDescriptor, o), nil })
	r.Register("json", func(o Options) (Decompressor, error) { return newPlain(jsonDescriptor, o), nil })
	r.Register("gzip_command", func(o Options) (Decompressor, error) { return newCommand(gzipCommandSpec, o) })
	r.Register("lzo", func(o Options) (Decompressor, error) { return newCommand(lzoSpec, o) })
	r.Register("lzma2", func(o Options) (Decompressor, error) { return newCommand(lzma2Spec, o) })
	return r
}

// NewCompressorRegistry returns a registry holding the built-in and command compressors.
func NewCompressorRegistry() *Registry[Compressor] {
	r := NewRegistry[Compressor]("compressor")
	r.Register("gzip", func(o Options) (Compressor, error) { return newGzip(o), nil })
	r.Register("text", func(o Options) (Compressor, error) { return newPlain(textDescriptor, o), nil })
	r.Register("json", func(o Options) (Compressor, error) { return newPlain(jsonDescriptor, o), nil })
	r.Register("gzip_command", func(o Options) (Compressor, error) { return newCommand(gzipCommandSpec, o) })
	r.Register("lzo", func(o Options) (Compressor, error) { return newCommand(lzoSpec, o) })
	r.Register("lzma2", func(o Options) (Compressor, error) { return newCommand(lzma2Spec, o) })
	return r
}

// LookupCompressorOrText resolves name, degrading to the text compressor when name is unknown.
// Configure-time failures of a known codec are still returned.
func LookupCompressorOrText(r *Registry[Compressor], name string, opts Options) (Compressor, error) {
	c, err := r.Lookup(name, opts)
	if errors.Is(err, ErrUnsupported) {
		opts.Logger.Warn().Err(err).Str("store_as", name).Msg("Compressor not supported, using text instead.")
		return newPlain(textDescriptor, opts), nil
	}
	return c, err
}
