// Package simpleupload provides a small file-upload library with pluggable
// metadata index and blob storage backends.
//
// It exposes a single Service interface that validates incoming files,
// writes them to a BlobStore under a generated stored key, appends an
// UploadRecord to an Index and hands a notification to a Notifier.
// Implementations of indexes (memory, JSON file, Postgres, Redis), blob
// stores (memory, filesystem, S3, GCS) and notifiers (websocket, NATS,
// CloudEvents) are provided under subpackages.
//
// # Consistency
//
// A record is only appended after its bytes were accepted by the BlobStore,
// so an index never exposes an entry without data. If the append fails the
// blob is left behind as an orphan and the caller receives an
// *IndexWriteError. Index implementations serialize appends and clamp
// ReceivedAt so that it never decreases in append order.
package simpleupload
