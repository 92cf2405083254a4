package simpleupload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload/storedkey"
)

// sniffLen is the number of bytes http.DetectContentType looks at.
const sniffLen = 512

// service implements the Service interface
type service struct {
	index          Index
	blobStore      BlobStore
	blobStoreName  string
	notifier       Notifier
	keyGenerator   storedkey.Generator
	allowList      storedkey.AllowList
	storageTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithIndex sets the metadata index for the service
func WithIndex(index Index) Option {
	return func(s *service) {
		s.index = index
	}
}

// WithBlobStore sets the blob storage backend; name is used in errors and logs
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		s.blobStoreName = name
		s.blobStore = store
	}
}

// WithNotifier sets the notification fan-out for the service
func WithNotifier(notifier Notifier) Option {
	return func(s *service) {
		s.notifier = notifier
	}
}

// WithKeyGenerator overrides the stored key generation strategy
func WithKeyGenerator(generator storedkey.Generator) Option {
	return func(s *service) {
		s.keyGenerator = generator
	}
}

// WithAllowedExtensions replaces the default extension allow-list
func WithAllowedExtensions(extensions ...string) Option {
	return func(s *service) {
		s.allowList = storedkey.NewAllowList(extensions...)
	}
}

// WithStorageTimeout bounds every blob write; zero disables the bound
func WithStorageTimeout(timeout time.Duration) Option {
	return func(s *service) {
		s.storageTimeout = timeout
	}
}

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		notifier:     NewNoopNotifier(),
		keyGenerator: storedkey.NewRecommendedGenerator(),
		allowList:    storedkey.NewAllowList(storedkey.DefaultAllowedExtensions...),
		logger:       slog.Default(),
		now:          time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.blobStoreName == "" {
		s.blobStoreName = "default"
	}

	return s, nil
}

func (s *service) Intake(ctx context.Context, req IntakeRequest) (*UploadRecord, error) {
	if req.Reader == nil {
		return nil, ErrMissingFile
	}
	if !s.allowList.Allows(req.DeclaredName) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, storedkey.Extension(req.DeclaredName))
	}

	key := s.keyGenerator.GenerateKey(storedkey.SanitizeName(req.DeclaredName), s.now())

	body, contentType, err := sniffContentType(req.Reader, req.MimeHint)
	if err != nil {
		return nil, &StorageError{Backend: s.blobStoreName, Key: key, Op: "read", Err: err}
	}

	counter := &countingReader{r: body}

	writeCtx := ctx
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}

	location, err := s.blobStore.Write(writeCtx, key, counter, WriteParams{ContentType: contentType, Size: req.Size})
	if err != nil {
		s.logger.Error("Failed to write blob", "stored_key", key, "backend", s.blobStoreName, "err", err)
		return nil, &StorageError{Backend: s.blobStoreName, Key: key, Op: "write", Err: err}
	}

	record := &UploadRecord{
		OriginalName: req.DeclaredName,
		StoredKey:    key,
		Location:     location,
		ReceivedAt:   s.now().UTC(),
		Size:         counter.n,
		ContentType:  contentType,
	}

	if err := s.index.Append(ctx, record); err != nil {
		s.logger.Error("orphan blob: index append failed",
			"stored_key", key, "backend", s.blobStoreName, "location", location, "err", err)
		return nil, &IndexWriteError{Key: key, Err: err}
	}

	s.notifier.Publish(ctx, NewUploadedEvent(record))

	return record.Clone(), nil
}

func (s *service) ListAll(ctx context.Context) ([]*UploadRecord, error) {
	return s.index.List(ctx)
}

func (s *service) Get(ctx context.Context, storedKey string) (*UploadRecord, error) {
	if err := storedkey.ValidateKey(storedKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return s.index.FindByKey(ctx, storedKey)
}

func (s *service) Resolve(ctx context.Context, storedKey string) (string, error) {
	record, err := s.Get(ctx, storedKey)
	if err != nil {
		return "", err
	}
	return record.Location, nil
}

func (s *service) Retrieve(ctx context.Context, storedKey string) (*Retrieval, error) {
	record, err := s.Get(ctx, storedKey)
	if err != nil {
		return nil, err
	}

	if isHTTPURL(record.Location) {
		return &Retrieval{Record: record, RedirectURL: record.Location}, nil
	}

	if signer, ok := s.blobStore.(URLSigner); ok {
		url, err := signer.DownloadURL(ctx, storedKey, record.OriginalName)
		if err == nil && url != "" {
			return &Retrieval{Record: record, RedirectURL: url}, nil
		}
		if err != nil {
			s.logger.Warn("Failed to sign download URL, streaming instead", "stored_key", storedKey, "err", err)
		}
	}

	body, err := s.blobStore.Open(ctx, storedKey)
	if err != nil {
		return nil, &StorageError{Backend: s.blobStoreName, Key: storedKey, Op: "open", Err: err}
	}
	return &Retrieval{Record: record, Body: body}, nil
}

func (s *service) Ping(ctx context.Context) {
	s.notifier.Publish(ctx, Event{Type: EventPing, ReceivedAt: s.now().UTC()})
}

// sniffContentType returns a reader equivalent to r and the content type to
// store. The hint wins unless it is empty or the generic octet-stream type.
func sniffContentType(r io.Reader, hint string) (io.Reader, string, error) {
	hint = strings.TrimSpace(hint)
	if hint != "" && hint != "application/octet-stream" {
		return r, hint, nil
	}

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	buf = buf[:n]
	return io.MultiReader(bytes.NewReader(buf), r), http.DetectContentType(buf), nil
}

func isHTTPURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
