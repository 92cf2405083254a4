package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// LocationScheme prefixes the locations returned by the in-memory backend.
const LocationScheme = "memory://"

// Backend is an in-memory implementation of the simpleupload.BlobStore interface
type Backend struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	contentTypes map[string]string
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// Write reads the whole stream before taking the lock, so a failed or
// cancelled read stores nothing.
func (b *Backend) Write(ctx context.Context, key string, reader io.Reader, params simpleupload.WriteParams) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = data
	contentType := params.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.contentTypes[key] = contentType
	return LocationScheme + key, nil
}

// Open returns a reader over the stored bytes
func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, fmt.Errorf("%s: %w", key, simpleupload.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ContentType returns the content type recorded for key.
func (b *Backend) ContentType(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ct, ok := b.contentTypes[key]
	return ct, ok
}

// Len returns the number of stored blobs.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
