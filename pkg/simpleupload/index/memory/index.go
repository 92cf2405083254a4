package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Index implements simpleupload.Index using in-memory storage
type Index struct {
	mu      sync.RWMutex
	records []*simpleupload.UploadRecord
	byKey   map[string]int // stored key -> position in records
}

// New creates a new in-memory index
func New() *Index {
	return &Index{
		byKey: make(map[string]int),
	}
}

func (i *Index) Append(ctx context.Context, record *simpleupload.UploadRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.byKey[record.StoredKey]; exists {
		return fmt.Errorf("append %q: %w", record.StoredKey, simpleupload.ErrDuplicateKey)
	}

	if n := len(i.records); n > 0 {
		record.ReceivedAt = simpleupload.NextReceivedAt(record.ReceivedAt, i.records[n-1].ReceivedAt)
	}

	// Store a copy to avoid external modifications
	i.byKey[record.StoredKey] = len(i.records)
	i.records = append(i.records, record.Clone())
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

// Len returns the number of records.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.records)
}
