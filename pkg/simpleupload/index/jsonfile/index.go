// Package jsonfile keeps the upload index in a single JSON document on disk.
//
// The document is loaded once into memory when the index is opened. Every
// append holds the index lock, writes the complete new list to a temporary
// file next to the document, syncs it and renames it over the document. The
// in-memory mirror is only updated after the rename succeeded, so readers see
// either the state before or after an append and a failed flush leaves no
// trace.
//
// Only one process may own a given document.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

const tempPattern = ".index-*.tmp"

// ErrReadOnly is returned by Append on an index opened read-only.
var ErrReadOnly = errors.New("index is read-only")

// Index implements simpleupload.Index on top of a JSON file.
type Index struct {
	mu       sync.RWMutex
	path     string
	fileMode os.FileMode
	readOnly bool
	records  []*simpleupload.UploadRecord
	byKey    map[string]int
}

// Config options for the JSON file index
type Config struct {
	Path     string      // Location of the JSON document
	FileMode os.FileMode // Permission bits for the document (default 0644)
	ReadOnly bool        // Never touch the filesystem; Append fails
}

// Open loads the index stored at config.Path, creating parent directories
// as needed unless the index is read-only. A missing document is treated as
// an empty index.
func Open(config Config) (*Index, error) {
	if config.Path == "" {
		return nil, errors.New("index path is required")
	}
	if config.FileMode == 0 {
		config.FileMode = 0o644
	}

	path := filepath.Clean(config.Path)
	if !config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	idx := &Index{
		path:     path,
		fileMode: config.FileMode,
		readOnly: config.ReadOnly,
		byKey:    make(map[string]int),
	}

	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r == nil {
			return nil, fmt.Errorf("index %s: null record", path)
		}
		if _, dup := idx.byKey[r.StoredKey]; dup {
			return nil, fmt.Errorf("index %s: duplicate stored key %q", path, r.StoredKey)
		}
		idx.byKey[r.StoredKey] = len(idx.records)
		idx.records = append(idx.records, r)
	}

	return idx, nil
}

// Path returns the location of the JSON document.
func (i *Index) Path() string {
	return i.path
}

func (i *Index) Append(ctx context.Context, record *simpleupload.UploadRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i.readOnly {
		return fmt.Errorf("append %q: %w", record.StoredKey, ErrReadOnly)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.byKey[record.StoredKey]; exists {
		return fmt.Errorf("append %q: %w", record.StoredKey, simpleupload.ErrDuplicateKey)
	}

	stored := record.Clone()
	if n := len(i.records); n > 0 {
		stored.ReceivedAt = simpleupload.NextReceivedAt(stored.ReceivedAt, i.records[n-1].ReceivedAt)
	}

	next := make([]*simpleupload.UploadRecord, len(i.records), len(i.records)+1)
	copy(next, i.records)
	next = append(next, stored)

	if err := i.flush(next); err != nil {
		return fmt.Errorf("append %q: %w", record.StoredKey, err)
	}

	i.records = next
	i.byKey[stored.StoredKey] = len(next) - 1
	record.ReceivedAt = stored.ReceivedAt
	return nil
}

func (i *Index) List(ctx context.Context) ([]*simpleupload.UploadRecord, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := make([]*simpleupload.UploadRecord, 0, len(i.records))
	for n := len(i.records) - 1; n >= 0; n-- {
		result = append(result, i.records[n].Clone())
	}
	return result, nil
}

func (i *Index) FindByKey(ctx context.Context, storedKey string) (*simpleupload.UploadRecord, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	pos, exists := i.byKey[storedKey]
	if !exists {
		return nil, fmt.Errorf("find %q: %w", storedKey, simpleupload.ErrNotFound)
	}
	return i.records[pos].Clone(), nil
}

// flush atomically replaces the document with records.
func (i *Index) flush(records []*simpleupload.UploadRecord) (err error) {
	dir := filepath.Dir(i.path)
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up on error
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(records); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing index: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}
	if err = os.Chmod(tmpPath, i.fileMode); err != nil {
		return fmt.Errorf("setting index permissions: %w", err)
	}
	if err = os.Rename(tmpPath, i.path); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}

	syncDir(dir)
	return nil
}

func readRecords(path string) ([]*simpleupload.UploadRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	var records []*simpleupload.UploadRecord
	if err := json.NewDecoder(f).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	return records, nil
}

// syncDir makes the rename durable on filesystems that need it. Errors are
// ignored; not every platform allows syncing a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
