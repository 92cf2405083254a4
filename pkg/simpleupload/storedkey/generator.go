package storedkey

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// maxStemLength caps the sanitized name so keys stay usable as object names.
const maxStemLength = 128

// Generator defines the interface for stored key generation strategies
type Generator interface {
	// GenerateKey creates a stored key from an already sanitized file name.
	GenerateKey(sanitizedName string, now time.Time) string
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(sanitizedName string, now time.Time) string

func (f GeneratorFunc) GenerateKey(sanitizedName string, now time.Time) string {
	return f(sanitizedName, now)
}

// TimestampGenerator produces "<unix millis>-<random 0..1e9>-<name>".
// Uniqueness is probabilistic; two keys only collide when the millisecond,
// the random component and the name all match.
type TimestampGenerator struct{}

func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{}
}

func (g *TimestampGenerator) GenerateKey(sanitizedName string, now time.Time) string {
	return fmt.Sprintf("%d-%d-%s", now.UnixMilli(), rand.Int64N(1_000_000_001), sanitizedName)
}

// UUIDGenerator replaces the random component with a version 4 UUID for
// deployments that want a stronger uniqueness guarantee.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) GenerateKey(sanitizedName string, now time.Time) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.NewString(), sanitizedName)
}

// NewRecommendedGenerator returns the generator used when none is configured
func NewRecommendedGenerator() Generator {
	return NewTimestampGenerator()
}

// SanitizeName reduces a client supplied file name to a single safe path
// component. Directory parts and control characters are dropped, characters
// outside letters, digits, '-', '_' and '.' become '_' and dot runs are
// collapsed so the result never contains "..".
func SanitizeName(name string) string {
	base := baseName(name)
	ext := path.Ext(base)
	stem := cleanComponent(strings.TrimSuffix(base, ext))
	ext = cleanComponent(strings.TrimPrefix(ext, "."))

	if r := []rune(stem); len(r) > maxStemLength {
		stem = strings.TrimRight(string(r[:maxStemLength]), ".")
	}
	if stem == "" {
		stem = "file"
	}
	if ext == "" {
		return stem
	}
	return stem + "." + strings.ToLower(ext)
}

// Extension returns the lower-cased extension of the last path element of
// name, including the leading dot.
func Extension(name string) string {
	return strings.ToLower(path.Ext(baseName(name)))
}

// baseName returns the last element of name for both '/' and '\' separators.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

func cleanComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	return strings.Trim(out, ".")
}
