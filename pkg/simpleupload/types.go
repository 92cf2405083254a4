package simpleupload

import (
	"io"
	"time"
)

// UploadRecord describes one accepted file.
type UploadRecord struct {
	OriginalName string    `json:"originalName"`
	StoredKey    string    `json:"storedKey"`
	Location     string    `json:"location,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
}

// Clone returns a copy of the record.
func (r *UploadRecord) Clone() *UploadRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// EventType identifies a notification.
type EventType string

const (
	EventFileUploaded EventType = "file.uploaded"
	EventPing         EventType = "ping"
)

// Event is what the notification fan-out broadcasts.
type Event struct {
	Type         EventType `json:"type"`
	OriginalName string    `json:"originalName,omitempty"`
	StoredKey    string    `json:"storedKey,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// NewUploadedEvent builds the event announcing record.
func NewUploadedEvent(record *UploadRecord) Event {
	return Event{
		Type:         EventFileUploaded,
		OriginalName: record.OriginalName,
		StoredKey:    record.StoredKey,
		ReceivedAt:   record.ReceivedAt,
	}
}

// WriteParams carries optional hints for a blob write.
type WriteParams struct {
	ContentType string
	// Size is the declared size in bytes, or -1 when unknown.
	Size int64
}

// IntakeRequest contains the parameters of a single upload.
type IntakeRequest struct {
	Reader       io.Reader
	DeclaredName string
	MimeHint     string
	// Size is the size reported by the client, or -1 when unknown.
	Size int64
}

// Retrieval is the result of resolving a stored key for download.
// Exactly one of RedirectURL and Body is set.
type Retrieval struct {
	Record      *UploadRecord
	RedirectURL string
	Body        io.ReadCloser
}

// NextReceivedAt returns the timestamp to store for a record appended after
// a record received at last. It keeps ReceivedAt non-decreasing in append
// order.
func NextReceivedAt(candidate, last time.Time) time.Time {
	if candidate.Before(last) {
		return last
	}
	return candidate
}
