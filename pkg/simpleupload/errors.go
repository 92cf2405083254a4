package simpleupload

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrUnsupportedType indicates the file extension is not on the allow-list
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrMissingFile indicates the request carried no file
	ErrMissingFile = errors.New("no file provided")

	// ErrInvalidKey indicates a stored key that could escape the blob namespace
	ErrInvalidKey = errors.New("invalid stored key")

	// ErrNotFound indicates no record exists for a stored key
	ErrNotFound = errors.New("upload not found")

	// ErrDuplicateKey indicates a stored key is already present in the index
	ErrDuplicateKey = errors.New("stored key already indexed")

	// ErrBlobNotFound indicates a blob store holds nothing under a key
	ErrBlobNotFound = errors.New("blob not found")

	// ErrUnauthorized indicates a missing or invalid credential
	ErrUnauthorized = errors.New("unauthorized")
)

// StorageError represents a failed blob store operation. No index mutation
// happens after a StorageError.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IndexWriteError represents an index append that failed after the blob was
// written. The blob under Key is an orphan.
type IndexWriteError struct {
	Key string
	Err error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index append failed for key %s: %v", e.Key, e.Err)
}

func (e *IndexWriteError) Unwrap() error {
	return e.Err
}
