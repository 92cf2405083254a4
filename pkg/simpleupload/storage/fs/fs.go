package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/storedkey"
)

const tempPattern = ".upload-*.tmp"

// Backend is a filesystem implementation of the simpleupload.BlobStore interface.
// Every blob is a single file directly under BaseDir named after its key.
type Backend struct {
	baseDir   string
	urlPrefix string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // Optional public URL prefix; when set locations are <prefix>/<key>
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir:   baseDir,
		urlPrefix: strings.TrimRight(config.URLPrefix, "/"),
	}, nil
}

// BaseDir returns the absolute directory blobs are written to.
func (b *Backend) BaseDir() string {
	return b.baseDir
}

// Write streams reader into a temporary file and renames it into place once
// fully written, so a partial upload is never visible under key.
func (b *Backend) Write(ctx context.Context, key string, reader io.Reader, params simpleupload.WriteParams) (location string, err error) {
	if err := storedkey.ValidateKey(key); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(b.baseDir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, &contextReader{ctx: ctx, r: reader}); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	dest := b.path(key)
	if err = os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to commit file: %w", err)
	}

	return b.location(key, dest), nil
}

// Open opens the file stored under key
func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := storedkey.ValidateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, simpleupload.ErrBlobNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.baseDir, key)
}

func (b *Backend) location(key, path string) string {
	if b.urlPrefix == "" {
		return path
	}
	return b.urlPrefix + "/" + url.PathEscape(key)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
