package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// settings is the external shape of the configuration. Zero values mean
// "not set" so they never override a value applied by an earlier option.
type settings struct {
	Port        string `yaml:"port" json:"port" toml:"port" env:"PORT"`
	Environment string `yaml:"environment" json:"environment" toml:"environment" env:"ENVIRONMENT"`

	IndexURL         string        `yaml:"index_url" json:"index_url" toml:"index_url" env:"INDEX_URL"`
	StorageURL       string        `yaml:"storage_url" json:"storage_url" toml:"storage_url" env:"STORAGE_URL"`
	StoragePublicURL string        `yaml:"storage_public_url" json:"storage_public_url" toml:"storage_public_url" env:"STORAGE_PUBLIC_URL"`
	StorageTimeout   time.Duration `yaml:"storage_timeout" json:"storage_timeout" toml:"storage_timeout" env:"STORAGE_TIMEOUT"`

	AWSAccessKeyID     string `yaml:"aws_access_key_id" json:"aws_access_key_id" toml:"aws_access_key_id" env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key" json:"aws_secret_access_key" toml:"aws_secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file" json:"gcs_credentials_file" toml:"gcs_credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	GCSProject         string `yaml:"gcs_project" json:"gcs_project" toml:"gcs_project" env:"GCS_PROJECT"`

	MaxUploadBytes    int64    `yaml:"max_upload_bytes" json:"max_upload_bytes" toml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions" toml:"allowed_extensions" env:"ALLOWED_EXTENSIONS" env-separator:","`
	KeyStrategy       string   `yaml:"key_strategy" json:"key_strategy" toml:"key_strategy" env:"KEY_STRATEGY"`

	AuthJWTSecret string `yaml:"auth_jwt_secret" json:"auth_jwt_secret" toml:"auth_jwt_secret" env:"AUTH_JWT_SECRET"`

	NATSURL            string `yaml:"nats_url" json:"nats_url" toml:"nats_url" env:"NATS_URL"`
	NATSSubject        string `yaml:"nats_subject" json:"nats_subject" toml:"nats_subject" env:"NATS_SUBJECT"`
	EventWebhookURL    string `yaml:"event_webhook_url" json:"event_webhook_url" toml:"event_webhook_url" env:"EVENT_WEBHOOK_URL"`
	EnableEventLogging string `yaml:"enable_event_logging" json:"enable_event_logging" toml:"enable_event_logging" env:"ENABLE_EVENT_LOGGING"`

	KeepaliveURL      string        `yaml:"keepalive_url" json:"keepalive_url" toml:"keepalive_url" env:"KEEPALIVE_URL"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval" toml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	StaticDir      string        `yaml:"static_dir" json:"static_dir" toml:"static_dir" env:"STATIC_DIR"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
}

// WithEnv overlays configuration from environment variables.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var s settings
		if err := cleanenv.ReadEnv(&s); err != nil {
			return fmt.Errorf("reading environment: %w", err)
		}
		return s.apply(c)
	}
}

// WithFile overlays configuration from a YAML, JSON or TOML file. Environment
// variables take precedence over values from the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		var s settings
		if err := cleanenv.ReadConfig(path, &s); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
		return s.apply(c)
	}
}

// Usage returns the description of every supported environment variable.
func Usage() string {
	var s settings
	usage, err := cleanenv.GetDescription(&s, nil)
	if err != nil {
		return ""
	}
	return usage
}

func (s *settings) apply(c *ServerConfig) error {
	setString(&c.Port, s.Port)
	setString(&c.Environment, s.Environment)
	setString(&c.IndexURL, s.IndexURL)
	setString(&c.StorageURL, s.StorageURL)
	setString(&c.StoragePublicURL, s.StoragePublicURL)
	setDuration(&c.StorageTimeout, s.StorageTimeout)

	setString(&c.AWSAccessKeyID, s.AWSAccessKeyID)
	setString(&c.AWSSecretAccessKey, s.AWSSecretAccessKey)
	setString(&c.GCSCredentialsFile, s.GCSCredentialsFile)
	setString(&c.GCSProject, s.GCSProject)

	if s.MaxUploadBytes != 0 {
		c.MaxUploadBytes = s.MaxUploadBytes
	}
	if exts := trimAll(s.AllowedExtensions); len(exts) > 0 {
		c.AllowedExtensions = exts
	}
	setString(&c.KeyStrategy, strings.ToLower(s.KeyStrategy))

	setString(&c.AuthJWTSecret, s.AuthJWTSecret)

	setString(&c.NATSURL, s.NATSURL)
	setString(&c.NATSSubject, s.NATSSubject)
	setString(&c.EventWebhookURL, s.EventWebhookURL)
	if s.EnableEventLogging != "" {
		enabled, err := strconv.ParseBool(s.EnableEventLogging)
		if err != nil {
			return fmt.Errorf("invalid ENABLE_EVENT_LOGGING %q: %w", s.EnableEventLogging, err)
		}
		c.EnableEventLogging = enabled
	}

	setString(&c.KeepaliveURL, s.KeepaliveURL)
	setDuration(&c.KeepaliveInterval, s.KeepaliveInterval)

	setDuration(&c.RequestTimeout, s.RequestTimeout)
	setString(&c.StaticDir, s.StaticDir)
	if origins := trimAll(s.AllowedOrigins); len(origins) > 0 {
		c.AllowedOrigins = origins
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
