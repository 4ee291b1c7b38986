package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryObject is a stored object of a MemoryClient.
type MemoryObject struct {
	Data        []byte
	ContentType string
}

// MemoryClient is an in-process Client for local development and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	buckets map[string]map[string]MemoryObject
}

// NewMemoryClient creates a MemoryClient holding the named, empty buckets.
func NewMemoryClient(buckets ...string) *MemoryClient {
	c := &MemoryClient{buckets: make(map[string]map[string]MemoryObject)}
	for _, b := range buckets {
		c.buckets[b] = make(map[string]MemoryObject)
	}
	return c
}

func (c *MemoryClient) BucketExists(_ context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.buckets[name]
	return ok, nil
}

func (c *MemoryClient) CreateBucket(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buckets[name]; !ok {
		c.buckets[name] = make(map[string]MemoryObject)
	}
	return nil
}

func (c *MemoryClient) Bucket(name string) Bucket {
	return &memoryBucket{client: c, name: name}
}

// Objects returns a copy of the objects stored in bucket.
func (c *MemoryClient) Objects(bucket string) map[string]MemoryObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]MemoryObject, len(c.buckets[bucket]))
	for k, v := range c.buckets[bucket] {
		out[k] = v
	}
	return out
}

type memoryBucket struct {
	client *MemoryClient
	name   string
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) objects() (map[string]MemoryObject, error) {
	objs, ok := b.client.buckets[b.name]
	if !ok {
		return nil, fmt.Errorf("%w: bucket = %s", ErrBucketNotFound, b.name)
	}
	return objs, nil
}

func (b *memoryBucket) ObjectExists(_ context.Context, key string) (bool, error) {
	b.client.mu.RLock()
	defer b.client.mu.RUnlock()
	objs, err := b.objects()
	if err != nil {
		return false, err
	}
	_, ok := objs[key]
	return ok, nil
}

func (b *memoryBucket) GetObject(_ context.Context, key string, fn func([]byte) error) error {
	b.client.mu.RLock()
	objs, err := b.objects()
	var obj MemoryObject
	var ok bool
	if err == nil {
		obj, ok = objs[key]
	}
	b.client.mu.RUnlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, b.name, key)
	}
	return streamChunks(bytes.NewReader(obj.Data), fn)
}

func (b *memoryBucket) PutObject(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	objs, err := b.objects()
	if err != nil {
		return err
	}
	objs[key] = MemoryObject{Data: data, ContentType: contentType}
	return nil
}

func (b *memoryBucket) ListObjects(_ context.Context, prefix string, fn func(string) error) error {
	b.client.mu.RLock()
	objs, err := b.objects()
	var keys []string
	for k := range objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	b.client.mu.RUnlock()
	if err != nil {
		return err
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBucket) DeleteObject(_ context.Context, key string) error {
	b.client.mu.Lock()
	defer b.client.mu.Unlock()
	objs, err := b.objects()
	if err != nil {
		return err
	}
	delete(objs, key)
	return nil
}
