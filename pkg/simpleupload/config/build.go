package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/index/jsonfile"
	memoryindex "github.com/tendant/simple-upload/pkg/simpleupload/index/memory"
	pgindex "github.com/tendant/simple-upload/pkg/simpleupload/index/postgres"
	redisindex "github.com/tendant/simple-upload/pkg/simpleupload/index/redis"
	fsstorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/fs"
	gcsstorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/gcs"
	memorystorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/memory"
	s3storage "github.com/tendant/simple-upload/pkg/simpleupload/storage/s3"
	"github.com/tendant/simple-upload/pkg/simpleupload/storedkey"
)

// CloseFunc releases a resource acquired while building.
type CloseFunc func() error

func noopClose() error { return nil }

// BuildIndex opens the metadata index named by IndexURL.
func (c *ServerConfig) BuildIndex(ctx context.Context) (simpleupload.Index, CloseFunc, error) {
	return c.buildIndex(ctx, false)
}

// BuildReadOnlyIndex opens the index for listing only. It creates no
// directories or tables, and a JSON file index refuses appends.
func (c *ServerConfig) BuildReadOnlyIndex(ctx context.Context) (simpleupload.Index, CloseFunc, error) {
	return c.buildIndex(ctx, true)
}

func (c *ServerConfig) buildIndex(ctx context.Context, readOnly bool) (simpleupload.Index, CloseFunc, error) {
	scheme, err := indexScheme(c.IndexURL)
	if err != nil {
		return nil, nil, err
	}

	switch scheme {
	case "memory":
		return memoryindex.New(), noopClose, nil

	case "file":
		idx, err := jsonfile.Open(jsonfile.Config{
			Path:     strings.TrimPrefix(c.IndexURL, "file://"),
			ReadOnly: readOnly,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open index file: %w", err)
		}
		return idx, noopClose, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, c.IndexURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		idx := pgindex.NewWithPool(pool)
		if readOnly {
			return idx, func() error { pool.Close(); return nil }, nil
		}
		if err := idx.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return idx, func() error { pool.Close(); return nil }, nil

	case "redis":
		idx, err := redisindex.NewFromURL(ctx, c.IndexURL, redisindex.Config{})
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	}

	return nil, nil, fmt.Errorf("unsupported index url %q", c.IndexURL)
}

// BuildBlobStore creates the blob store named by StorageURL. The returned
// name identifies the back end in errors and logs.
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (string, simpleupload.BlobStore, CloseFunc, error) {
	scheme, err := storageScheme(c.StorageURL)
	if err != nil {
		return "", nil, nil, err
	}

	switch scheme {
	case "memory":
		return scheme, memorystorage.New(), noopClose, nil

	case "fs":
		store, err := fsstorage.New(fsstorage.Config{
			BaseDir:   strings.TrimPrefix(c.StorageURL, "file://"),
			URLPrefix: c.StoragePublicURL,
		})
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to create fs storage: %w", err)
		}
		return scheme, store, noopClose, nil

	case "s3":
		s3cfg, err := c.s3Config()
		if err != nil {
			return "", nil, nil, err
		}
		store, err := s3storage.New(s3cfg)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to create s3 storage: %w", err)
		}
		return scheme, store, noopClose, nil

	case "gcs":
		gcscfg, err := c.gcsConfig()
		if err != nil {
			return "", nil, nil, err
		}
		store, err := gcsstorage.New(ctx, gcscfg)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to create gcs storage: %w", err)
		}
		return scheme, store, store.Close, nil
	}

	return "", nil, nil, fmt.Errorf("unsupported storage url %q", c.StorageURL)
}

// BuildService wires the index and blob store into a Service. A nil notifier
// logs events when event logging is enabled and drops them otherwise. The
// returned CloseFunc releases the index and store.
func (c *ServerConfig) BuildService(ctx context.Context, notifier simpleupload.Notifier, logger *slog.Logger) (simpleupload.Service, CloseFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}

	index, closeIndex, err := c.BuildIndex(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build index: %w", err)
	}

	name, store, closeStore, err := c.BuildBlobStore(ctx)
	if err != nil {
		_ = closeIndex()
		return nil, nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	closeAll := func() error {
		errStore := closeStore()
		errIndex := closeIndex()
		if errStore != nil {
			return errStore
		}
		return errIndex
	}

	options := []simpleupload.Option{
		simpleupload.WithIndex(index),
		simpleupload.WithBlobStore(name, store),
		simpleupload.WithAllowedExtensions(c.AllowedExtensions...),
		simpleupload.WithStorageTimeout(c.StorageTimeout),
		simpleupload.WithLogger(logger),
	}
	switch {
	case notifier != nil:
		options = append(options, simpleupload.WithNotifier(notifier))
	case c.EnableEventLogging:
		options = append(options, simpleupload.WithNotifier(simpleupload.NewLoggingNotifier(logger)))
	}
	if c.KeyStrategy == KeyStrategyUUID {
		options = append(options, simpleupload.WithKeyGenerator(storedkey.NewUUIDGenerator()))
	}

	svc, err := simpleupload.New(options...)
	if err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, closeAll, nil
}

// s3Config reads s3://bucket?region=&endpoint=&path_style=&presign_seconds=&sse=&kms_key_id=&create_bucket=
func (c *ServerConfig) s3Config() (s3storage.Config, error) {
	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return s3storage.Config{}, fmt.Errorf("invalid storage url: %w", err)
	}
	q := u.Query()

	cfg := s3storage.Config{
		Bucket:          u.Host,
		Region:          q.Get("region"),
		Endpoint:        q.Get("endpoint"),
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		SSEAlgorithm:    q.Get("sse"),
		SSEKMSKeyID:     q.Get("kms_key_id"),
	}
	cfg.EnableSSE = cfg.SSEAlgorithm != ""

	if cfg.UsePathStyle, err = queryBool(q, "path_style"); err != nil {
		return cfg, err
	}
	if cfg.CreateBucketIfNotExist, err = queryBool(q, "create_bucket"); err != nil {
		return cfg, err
	}
	if cfg.PresignDuration, err = queryInt(q, "presign_seconds"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// gcsConfig reads gs://bucket?signed_urls=&presign_seconds=
func (c *ServerConfig) gcsConfig() (gcsstorage.Config, error) {
	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return gcsstorage.Config{}, fmt.Errorf("invalid storage url: %w", err)
	}
	q := u.Query()

	cfg := gcsstorage.Config{
		Bucket:          u.Host,
		Project:         c.GCSProject,
		CredentialsFile: c.GCSCredentialsFile,
	}
	if cfg.SignedURLs, err = queryBool(q, "signed_urls"); err != nil {
		return cfg, err
	}
	if cfg.PresignDuration, err = queryInt(q, "presign_seconds"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func queryBool(q url.Values, key string) (bool, error) {
	v := q.Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// closers runs CloseFuncs in reverse order and returns the first error.
type closers []CloseFunc

func (cs closers) Close() error {
	var first error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
