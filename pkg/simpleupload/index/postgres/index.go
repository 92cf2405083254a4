package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Schema creates the table backing the index. Append order is kept in seq.
const Schema = `
CREATE TABLE IF NOT EXISTS upload_record (
	seq           BIGSERIAL PRIMARY KEY,
	stored_key    TEXT NOT NULL UNIQUE,
	original_name TEXT NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	received_at   TIMESTAMPTZ NOT NULL,
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	content_type  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS upload_record_received_at_idx ON upload_record (received_at DESC, seq DESC);
`

// appendLockName is hashed into the advisory lock id serializing appends.
const appendLockName = "simpleupload.index.append"

// DB is the subset of pgxpool.Pool used by the index. A pgx.Tx also
// satisfies it, which lets tests run inside a transaction.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Index implements simpleupload.Index using PostgreSQL
type Index struct {
	db     DB
	lockID int64
}

// New creates a new PostgreSQL index
func New(db DB) *Index {
	return &Index{db: db, lockID: hashToInt64(appendLockName)}
}

// NewWithPool creates a new PostgreSQL index with connection pool
func NewWithPool(pool *pgxpool.Pool) *Index {
	return New(pool)
}

// EnsureSchema creates the backing table when it does not exist yet.
func (i *Index) EnsureSchema(ctx context.Context) error {
	if _, err := i.db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("ensure schema", err)
	}
	return nil
}

// Append inserts record inside a transaction holding an advisory lock, so
// concurrent appends from any number of service instances are serialized and
// received_at never goes backwards in seq order.
func (i *Index) Append(ctx context.Context, record *simpleupload.UploadRecord) error {
	return pgx.BeginFunc(ctx, i.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", i.lockID); err != nil {
			return handlePostgresError("lock index", err)
		}

		query := `
			INSERT INTO upload_record (
				stored_key, original_name, location, received_at, size_bytes, content_type
			) VALUES (
				$1, $2, $3,
				GREATEST($4::timestamptz, COALESCE((SELECT max(received_at) FROM upload_record), $4::timestamptz)),
				$5, $6
			) RETURNING received_at`

		var receivedAt time.Time
		err := tx.QueryRow(ctx, query,
			record.StoredKey, record.OriginalName, record.Location,
			record.ReceivedAt, record.Size, record.ContentType,
		).Scan(&receivedAt)
		if err != nil {
			return handlePostgresError("append", err)
		}

		record.ReceivedAt = receivedAt.UTC()
		return nil
	})
}

func (i *Index) List(ctx context.Context) ([]*simpleupload.UploadRecord, error) {
	query := `
		SELECT stored_key, original_name, location, received_at, size_bytes, content_type
		FROM upload_record
		ORDER BY seq DESC`

	rows, err := i.db.Query(ctx, query)
	if err != nil {
		return nil, handlePostgresError("list", err)
	}
	defer rows.Close()

	var result []*simpleupload.UploadRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, handlePostgresError("list", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list", err)
	}
	return result, nil
}

func (i *Index) FindByKey(ctx context.Context, storedKey string) (*simpleupload.UploadRecord, error) {
	query := `
		SELECT stored_key, original_name, location, received_at, size_bytes, content_type
		FROM upload_record
		WHERE stored_key = $1`

	record, err := scanRecord(i.db.QueryRow(ctx, query, storedKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("find %q: %w", storedKey, simpleupload.ErrNotFound)
		}
		return nil, handlePostgresError("find", err)
	}
	return record, nil
}

func scanRecord(row pgx.Row) (*simpleupload.UploadRecord, error) {
	var record simpleupload.UploadRecord
	err := row.Scan(
		&record.StoredKey, &record.OriginalName, &record.Location,
		&record.ReceivedAt, &record.Size, &record.ContentType)
	if err != nil {
		return nil, err
	}
	record.ReceivedAt = record.ReceivedAt.UTC()
	return &record, nil
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", operation, simpleupload.ErrDuplicateKey)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - run EnsureSchema: %w", operation, err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s): %w", operation, pgErr.Message, pgErr.Code, err)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// hashToInt64 converts a string key to an int64 using FNV-1a hash.
func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
