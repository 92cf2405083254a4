// Package keepalive periodically requests a URL so that hosting platforms
// which idle unused instances keep this one warm.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultInterval stays below the common 15 minute idle timeout.
const DefaultInterval = 14 * time.Minute

// Config options for the Pinger
type Config struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
	// Registerer receives the failure counter. Nil leaves it unregistered.
	Registerer prometheus.Registerer
}

// Pinger sends GET requests to a URL on a fixed interval.
type Pinger struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
	failures prometheus.Counter
}

// New creates a Pinger. It returns nil when config.URL is empty, and a nil
// Pinger's Run just waits for its context.
func New(config Config) *Pinger {
	if config.URL == "" {
		return nil
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Client == nil {
		config.Client = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Pinger{
		url:      config.URL,
		interval: config.Interval,
		timeout:  config.Timeout,
		client:   config.Client,
		logger:   config.Logger,
		failures: promauto.With(config.Registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "simpleupload",
			Name:      "keepalive_failures_total",
			Help:      "Keep-alive pings that failed",
		}),
	}
}

// Run pings until ctx is cancelled. Failures are logged and counted and
// never stop the loop.
func (p *Pinger) Run(ctx context.Context) error {
	if p == nil {
		<-ctx.Done()
		return nil
	}

	p.logger.Info("Keep-alive started", "url", p.url, "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.PingOnce(ctx); err != nil {
				p.failures.Inc()
				p.logger.Warn("Keep-alive ping failed", "url", p.url, "err", err)
			}
		}
	}
}

// PingOnce sends a single request and reports non-2xx replies as errors.
func (p *Pinger) PingOnce(ctx context.Context) error {
	return Ping(ctx, p.client, p.url, p.timeout)
}

// Ping sends one GET to url with the given timeout.
func Ping(ctx context.Context, client *http.Client, url string, timeout time.Duration) error {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
