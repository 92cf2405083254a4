package config

import (
	"errors"
	"time"
)

// WithPort sets the HTTP listen port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return errors.New("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		c.Environment = env
		return nil
	}
}

// WithIndexURL selects the metadata index back end
func WithIndexURL(url string) Option {
	return func(c *ServerConfig) error {
		c.IndexURL = url
		return nil
	}
}

// WithStorageURL selects the blob storage back end
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = url
		return nil
	}
}

// WithStoragePublicURL serves file:// blobs from a public URL prefix
func WithStoragePublicURL(prefix string) Option {
	return func(c *ServerConfig) error {
		c.StoragePublicURL = prefix
		return nil
	}
}

// WithStorageTimeout bounds every blob write
func WithStorageTimeout(timeout time.Duration) Option {
	return func(c *ServerConfig) error {
		c.StorageTimeout = timeout
		return nil
	}
}

// WithMaxUploadBytes caps the size of a single upload request
func WithMaxUploadBytes(n int64) Option {
	return func(c *ServerConfig) error {
		c.MaxUploadBytes = n
		return nil
	}
}

// WithKeyStrategy selects how stored keys are generated (timestamp, uuid)
func WithKeyStrategy(strategy string) Option {
	return func(c *ServerConfig) error {
		c.KeyStrategy = strategy
		return nil
	}
}

// WithAuthSecret enables the JWT auth gate with an HS256 secret
func WithAuthSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.AuthJWTSecret = secret
		return nil
	}
}

// WithNATS publishes events to subject on the NATS server at url
func WithNATS(url, subject string) Option {
	return func(c *ServerConfig) error {
		c.NATSURL = url
		if subject != "" {
			c.NATSSubject = subject
		}
		return nil
	}
}

// WithEventWebhook posts events as CloudEvents to url
func WithEventWebhook(url string) Option {
	return func(c *ServerConfig) error {
		c.EventWebhookURL = url
		return nil
	}
}

// WithEventLogging enables or disables logging of every event
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithKeepalive pings url on every interval; an empty url disables it
func WithKeepalive(url string, interval time.Duration) Option {
	return func(c *ServerConfig) error {
		c.KeepaliveURL = url
		if interval != 0 {
			c.KeepaliveInterval = interval
		}
		return nil
	}
}

// WithStaticDir serves a static front end from dir
func WithStaticDir(dir string) Option {
	return func(c *ServerConfig) error {
		c.StaticDir = dir
		return nil
	}
}

// WithAllowedOrigins restricts CORS and websocket origins
func WithAllowedOrigins(origins ...string) Option {
	return func(c *ServerConfig) error {
		c.AllowedOrigins = origins
		return nil
	}
}
