package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload/storedkey"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:               "8080",
		Environment:        "development",
		IndexURL:           "memory",
		StorageURL:         "memory://",
		StorageTimeout:     60 * time.Second,
		MaxUploadBytes:     32 << 20,
		AllowedExtensions:  append([]string(nil), storedkey.DefaultAllowedExtensions...),
		KeyStrategy:        KeyStrategyTimestamp,
		NATSSubject:        "uploads",
		KeepaliveInterval:  14 * time.Minute,
		RequestTimeout:     30 * time.Second,
		EnableEventLogging: true,
	}
}

// Stored key strategies
const (
	KeyStrategyTimestamp = "timestamp"
	KeyStrategyUUID      = "uuid"
)

// ServerConfig represents server configuration for the upload service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Metadata index: memory, file:///path/index.json, postgres://..., redis://...
	IndexURL string

	// Blob storage: memory://, file:///dir, s3://bucket?region=..., gs://bucket
	StorageURL       string
	StoragePublicURL string // Public URL prefix for file:// storage (CDN)
	StorageTimeout   time.Duration

	// AWS credentials for s3:// storage; empty uses the default chain
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// GCS options for gs:// storage
	GCSCredentialsFile string
	GCSProject         string

	// Intake
	MaxUploadBytes    int64
	AllowedExtensions []string
	KeyStrategy       string // timestamp, uuid

	// Auth gate; empty secret disables it
	AuthJWTSecret string

	// Notification sinks
	NATSURL            string
	NATSSubject        string
	EventWebhookURL    string
	EnableEventLogging bool

	// Keep-alive; empty URL disables it
	KeepaliveURL      string
	KeepaliveInterval time.Duration

	// HTTP
	RequestTimeout time.Duration
	StaticDir      string
	AllowedOrigins []string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be 'development', 'production' or 'testing', got %q", c.Environment)
	}

	if _, err := indexScheme(c.IndexURL); err != nil {
		return err
	}
	if _, err := storageScheme(c.StorageURL); err != nil {
		return err
	}

	if c.StoragePublicURL != "" {
		if u, err := url.Parse(c.StoragePublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("storage public url must be an http(s) URL, got %q", c.StoragePublicURL)
		}
	}

	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.StorageTimeout < 0 {
		return errors.New("storage timeout must not be negative")
	}
	if len(c.AllowedExtensions) == 0 {
		return errors.New("at least one allowed extension is required")
	}

	if c.KeyStrategy != KeyStrategyTimestamp && c.KeyStrategy != KeyStrategyUUID {
		return fmt.Errorf("key strategy must be '%s' or '%s'", KeyStrategyTimestamp, KeyStrategyUUID)
	}

	if c.KeepaliveURL != "" && c.KeepaliveInterval <= 0 {
		return errors.New("keepalive interval must be positive")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return errors.New("nats subject is required when NATS is enabled")
	}

	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// NewLogger returns a JSON logger in production and a text logger elsewhere.
func (c *ServerConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// indexScheme returns the normalized back end name for an index URL.
func indexScheme(raw string) (string, error) {
	if raw == "memory" || raw == "memory://" {
		return "memory", nil
	}
	scheme, _, ok := strings.Cut(raw, "://")
	if !ok {
		return "", fmt.Errorf("index url %q must be 'memory' or a file://, postgres:// or redis:// URL", raw)
	}
	switch scheme {
	case "file":
		if strings.TrimPrefix(raw, "file://") == "" {
			return "", errors.New("index url file:// requires a path")
		}
		return "file", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "redis", "rediss":
		return "redis", nil
	default:
		return "", fmt.Errorf("unsupported index url scheme %q", scheme)
	}
}

// storageScheme returns the normalized back end name for a storage URL.
func storageScheme(raw string) (string, error) {
	if raw == "memory" {
		return "memory", nil
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "", fmt.Errorf("storage url %q must be a memory://, file://, s3:// or gs:// URL", raw)
	}
	switch scheme {
	case "memory":
		return "memory", nil
	case "file":
		if rest == "" {
			return "", errors.New("storage url file:// requires a directory")
		}
		return "fs", nil
	case "s3", "gs":
		bucket, _, _ := strings.Cut(rest, "?")
		if strings.Trim(bucket, "/") == "" {
			return "", fmt.Errorf("storage url %s:// requires a bucket", scheme)
		}
		if scheme == "gs" {
			return "gcs", nil
		}
		return "s3", nil
	default:
		return "", fmt.Errorf("unsupported storage url scheme %q", scheme)
	}
}
