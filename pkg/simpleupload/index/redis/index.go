// Package redis stores the upload index in Redis.
//
// Records live in a hash keyed by stored key, append order in a list and the
// latest ReceivedAt in a plain key. An append runs as an optimistic
// WATCH/MULTI transaction over that last key, so appends from several service
// instances never interleave; within one instance appends are additionally
// serialized by a mutex to avoid needless transaction retries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

const maxTxRetries = 64

// Config options for the Redis index
type Config struct {
	Prefix string // Key prefix (default "simpleupload")
}

// Index implements simpleupload.Index using Redis
type Index struct {
	mu         sync.Mutex
	client     redis.UniversalClient
	recordsKey string
	orderKey   string
	lastKey    string
}

// New creates a Redis index on top of an existing client
func New(client redis.UniversalClient, config Config) *Index {
	prefix := config.Prefix
	if prefix == "" {
		prefix = "simpleupload"
	}
	return &Index{
		client:     client,
		recordsKey: prefix + ":records",
		orderKey:   prefix + ":order",
		lastKey:    prefix + ":last_received_at",
	}
}

// NewFromURL parses a redis:// URL, connects and verifies the connection with PING.
func NewFromURL(ctx context.Context, url string, config Config) (*Index, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis index: ping failed: %w", err)
	}
	return New(client, config), nil
}

// Close closes the underlying client.
func (i *Index) Close() error {
	return i.client.Close()
}

func (i *Index) Append(ctx context.Context, record *simpleupload.UploadRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		stored, err := i.tryAppend(ctx, record)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("append %q: %w", record.StoredKey, err)
		}
		record.ReceivedAt = stored.ReceivedAt
		return nil
	}
	return fmt.Errorf("append %q: gave up after %d conflicting transactions", record.StoredKey, maxTxRetries)
}

func (i *Index) tryAppend(ctx context.Context, record *simpleupload.UploadRecord) (*simpleupload.UploadRecord, error) {
	stored := record.Clone()

	err := i.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, i.recordsKey, record.StoredKey).Result()
		if err != nil {
			return err
		}
		if exists {
			return simpleupload.ErrDuplicateKey
		}

		lastNanos, err := tx.Get(ctx, i.lastKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if lastNanos != 0 {
			stored.ReceivedAt = simpleupload.NextReceivedAt(stored.ReceivedAt, time.Unix(0, lastNanos).UTC())
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, i.recordsKey, stored.StoredKey, data)
			pipe.RPush(ctx, i.orderKey, stored.StoredKey)
			pipe.Set(ctx, i.lastKey, stored.ReceivedAt.UnixNano(), 0)
			return nil
		})
		return err
	}, i.lastKey)

	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (i *Index) List(ctx context.Context) ([]*simpleupload.UploadRecord, error) {
	keys, err := i.client.LRange(ctx, i.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if len(keys) == 0 {
		return []*simpleupload.UploadRecord{}, nil
	}

	values, err := i.client.HMGet(ctx, i.recordsKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	result := make([]*simpleupload.UploadRecord, 0, len(values))
	for n := len(values) - 1; n >= 0; n-- {
		raw, ok := values[n].(string)
		if !ok {
			return nil, fmt.Errorf("list: record %q missing from %s", keys[n], i.recordsKey)
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		result = append(result, record)
	}
	return result, nil
}

func (i *Index) FindByKey(ctx context.Context, storedKey string) (*simpleupload.UploadRecord, error) {
	raw, err := i.client.HGet(ctx, i.recordsKey, storedKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("find %q: %w", storedKey, simpleupload.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", storedKey, err)
	}
	return decodeRecord(raw)
}

func decodeRecord(raw string) (*simpleupload.UploadRecord, error) {
	var record simpleupload.UploadRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &record, nil
}
