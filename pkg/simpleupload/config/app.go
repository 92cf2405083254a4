package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/api"
	"github.com/tendant/simple-upload/pkg/simpleupload/auth"
	"github.com/tendant/simple-upload/pkg/simpleupload/keepalive"
	"github.com/tendant/simple-upload/pkg/simpleupload/notify"
)

const shutdownTimeout = 15 * time.Second

// App is a fully wired upload server.
type App struct {
	Config     *ServerConfig
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Service    simpleupload.Service
	Dispatcher *notify.Dispatcher
	Hub        *notify.Hub
	Gate       *auth.Gate // nil when the auth gate is disabled
	Pinger     *keepalive.Pinger

	handler http.Handler
	closers closers
}

// Build assembles the server described by c: index, blob store, notification
// sinks, auth gate, keep-alive and metrics registry.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = c.NewLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{Config: c, Logger: logger, Registry: registry}

	sinks, err := c.buildSinks(app)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Dispatcher = notify.NewDispatcher(sinks,
		notify.WithLogger(logger),
		notify.WithMetrics(notify.NewMetrics(registry)),
	)

	svc, closeService, err := c.BuildService(ctx, app.Dispatcher, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Service = svc
	app.closers = append(app.closers, closeService)

	if c.AuthJWTSecret != "" {
		gate, err := auth.NewGate(c.AuthJWTSecret, logger)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to create auth gate: %w", err)
		}
		app.Gate = gate
	}

	app.Pinger = keepalive.New(keepalive.Config{
		URL:        c.KeepaliveURL,
		Interval:   c.KeepaliveInterval,
		Logger:     logger,
		Registerer: registry,
	})

	return app, nil
}

func (c *ServerConfig) buildSinks(app *App) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if c.EnableEventLogging {
		sinks = append(sinks, notify.NewLogSink(app.Logger))
	}

	app.Hub = notify.NewHub(notify.HubConfig{
		AllowedOrigins: c.AllowedOrigins,
		Logger:         app.Logger,
	})
	sinks = append(sinks, app.Hub)
	app.closers = append(app.closers, func() error { app.Hub.Close(); return nil })

	if c.NATSURL != "" {
		natsSink, err := notify.ConnectNATS(c.NATSURL, c.NATSSubject, app.Logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, natsSink)
		app.closers = append(app.closers, natsSink.Close)
	}

	if c.EventWebhookURL != "" {
		ceSink, err := notify.NewCloudEventsSink(c.EventWebhookURL, notify.DefaultCloudEventSource)
		if err != nil {
			return nil, fmt.Errorf("failed to create event webhook sink: %w", err)
		}
		sinks = append(sinks, ceSink)
	}

	return sinks, nil
}

// Handler returns the HTTP routes of the app. They are built once; building
// registers the request metrics with the app registry.
func (a *App) Handler() http.Handler {
	if a.handler != nil {
		return a.handler
	}
	opts := []api.Option{
		api.WithLogger(a.Logger),
		api.WithRegistry(a.Registry),
		api.WithLiveUpdates(a.Hub),
		api.WithMaxUploadBytes(a.Config.MaxUploadBytes),
		api.WithRequestTimeout(a.Config.RequestTimeout),
		api.WithAllowedOrigins(a.Config.AllowedOrigins),
	}
	if a.Gate != nil {
		opts = append(opts, api.WithAuthGate(a.Gate))
	}
	if a.Config.StaticDir != "" {
		opts = append(opts, api.WithStaticDir(a.Config.StaticDir))
	}
	a.handler = api.NewHandler(a.Service, opts...).Routes()
	return a.handler
}

// Run serves HTTP on the configured port together with the notification
// dispatcher and the keep-alive loop until ctx is cancelled or one of them
// fails. The server is shut down gracefully.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+a.Config.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", a.Config.Port, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return a.Pinger.Run(gctx)
	})
	g.Go(func() error {
		a.Logger.Info("Starting server", "addr", listener.Addr().String(), "environment", a.Config.Environment)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down server")
		// Websocket connections are hijacked and not closed by Shutdown.
		a.Hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every resource acquired by Build.
func (a *App) Close() error {
	return a.closers.Close()
}
