package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"google.golang.org/api/option"
)

// Config options for the Google Cloud Storage backend
type Config struct {
	Bucket          string // Bucket name
	Project         string // Optional quota project
	CredentialsFile string // Optional service account JSON key file
	SignedURLs      bool   // Redirect downloads to V4 signed URLs
	PresignDuration int    // Lifetime of signed URLs in seconds (default: 3600)
}

// bucketHandle abstracts *storage.BucketHandle so tests can avoid real GCS calls.
type bucketHandle interface {
	Object(name string) objectHandle
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// objectHandle abstracts *storage.ObjectHandle.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
}

type realBucketHandle struct{ bh *storage.BucketHandle }

func (r *realBucketHandle) Object(name string) objectHandle {
	return &realObjectHandle{r.bh.Object(name)}
}

func (r *realBucketHandle) SignedURL(object string, opts *storage.SignedURLOptions) (string, error) {
	return r.bh.SignedURL(object, opts)
}

type realObjectHandle struct{ oh *storage.ObjectHandle }

func (r *realObjectHandle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return r.oh.NewReader(ctx)
}

func (r *realObjectHandle) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	w := r.oh.NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// Backend stores blobs in a single GCS bucket.
type Backend struct {
	bucketName      string
	bucket          bucketHandle
	client          *storage.Client
	signedURLs      bool
	presignDuration time.Duration
}

// New creates a GCS client for config.Bucket.
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	opts := []option.ClientOption{}
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, config.CredentialsFile))
	}
	if config.Project != "" {
		opts = append(opts, option.WithQuotaProject(config.Project))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	b := newBackend(config, &realBucketHandle{client.Bucket(config.Bucket)})
	b.client = client
	return b, nil
}

func newBackend(config Config, bucket bucketHandle) *Backend {
	if config.PresignDuration == 0 {
		config.PresignDuration = 3600
	}
	return &Backend{
		bucketName:      config.Bucket,
		bucket:          bucket,
		signedURLs:      config.SignedURLs,
		presignDuration: time.Duration(config.PresignDuration) * time.Second,
	}
}

// Close closes the GCS client.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	b.client = nil
	return nil
}

// Location returns the location recorded for key.
func (b *Backend) Location(key string) string {
	return "gs://" + b.bucketName + "/" + key
}

// Write streams reader into the object. A failed copy cancels the writer's
// context before closing it, which discards the partial object instead of
// finalizing it.
func (b *Backend) Write(ctx context.Context, key string, reader io.Reader, params simpleupload.WriteParams) (string, error) {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.bucket.Object(key).NewWriter(writeCtx, params.ContentType)
	if _, err := io.Copy(w, reader); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer for object %q: %w", key, err)
	}

	return b.Location(key), nil
}

// Open retrieves an object from GCS.
func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, simpleupload.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return r, nil
}

// DownloadURL returns a V4 signed GET URL, or "" when signing is disabled so
// the caller streams the object instead.
func (b *Backend) DownloadURL(ctx context.Context, key string, downloadFilename string) (string, error) {
	if !b.signedURLs {
		return "", nil
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(b.presignDuration),
	}
	if downloadFilename != "" {
		opts.QueryParameters = url.Values{
			"response-content-disposition": {mime.FormatMediaType("attachment", map[string]string{"filename": downloadFilename})},
		}
	}

	signed, err := b.bucket.SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for object %q: %w", key, err)
	}
	return signed, nil
}
