package storedkey

import (
	"errors"
	"fmt"
	"strings"
)

const maxKeyLength = 1024

var (
	// ErrEmptyKey is returned for an empty stored key.
	ErrEmptyKey = errors.New("key cannot be empty")
	// ErrTraversal is returned for keys that could leave the blob namespace.
	ErrTraversal = errors.New("key contains path traversal")
)

// DefaultAllowedExtensions is the upload allow-list.
var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv"}

// AllowList is a set of accepted, lower-cased file extensions.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList; extensions are matched case-insensitively
// and may be given with or without the leading dot.
func NewAllowList(extensions ...string) AllowList {
	a := make(AllowList, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		a[ext] = struct{}{}
	}
	return a
}

// Allows reports whether the extension of name is in the list.
func (a AllowList) Allows(name string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	_, ok := a[ext]
	return ok
}

// ValidateKey checks a stored key received from a client before it is used
// for any lookup.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key longer than %d bytes: %w", maxKeyLength, ErrTraversal)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("relative path traversal not allowed: %w", ErrTraversal)
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("path separators not allowed: %w", ErrTraversal)
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("null bytes not allowed: %w", ErrTraversal)
	}
	return nil
}
