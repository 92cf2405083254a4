package simpleupload

import (
	"context"
	"io"
)

// BlobStore is durable byte storage addressed by a stored key.
type BlobStore interface {
	// Write stores the bytes read from reader under key and returns an
	// opaque location that can later be used to retrieve them.
	Write(ctx context.Context, key string, reader io.Reader, params WriteParams) (string, error)

	// Open returns the bytes stored under key. It returns an error wrapping
	// ErrBlobNotFound when nothing is stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// URLSigner is implemented by blob stores that can hand out a URL the
// client is redirected to instead of streaming bytes through the service.
type URLSigner interface {
	DownloadURL(ctx context.Context, key string, downloadFilename string) (string, error)
}

// Index is the ordered collection of upload records.
type Index interface {
	// Append persists record. Implementations serialize appends, may move
	// record.ReceivedAt forward to keep it non-decreasing in append order and
	// fail with an error wrapping ErrDuplicateKey if the stored key is taken.
	Append(ctx context.Context, record *UploadRecord) error

	// List returns all records, most recently appended first.
	List(ctx context.Context) ([]*UploadRecord, error)

	// FindByKey returns the record stored under storedKey or an error
	// wrapping ErrNotFound.
	FindByKey(ctx context.Context, storedKey string) (*UploadRecord, error)
}

// Notifier receives events for best-effort delivery. Publish must not block
// on delivery and has no way to report failure to the caller.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// Service is the upload intake and query API used by transports.
type Service interface {
	// Intake validates, stores and indexes one file, then publishes an
	// EventFileUploaded notification.
	Intake(ctx context.Context, req IntakeRequest) (*UploadRecord, error)

	// ListAll returns every record, most recent first.
	ListAll(ctx context.Context) ([]*UploadRecord, error)

	// Get returns the record for storedKey.
	Get(ctx context.Context, storedKey string) (*UploadRecord, error)

	// Resolve returns the location of storedKey.
	Resolve(ctx context.Context, storedKey string) (string, error)

	// Retrieve prepares storedKey for download, either as a redirect URL or
	// as an open stream the caller must close.
	Retrieve(ctx context.Context, storedKey string) (*Retrieval, error)

	// Ping publishes an EventPing notification.
	Ping(ctx context.Context)
}
