package simpleupload

import (
	"context"
	"log/slog"
)

// NoopNotifier drops every event
type NoopNotifier struct{}

// NewNoopNotifier creates a new no-operation notifier
func NewNoopNotifier() Notifier {
	return &NoopNotifier{}
}

// Publish does nothing
func (n *NoopNotifier) Publish(ctx context.Context, event Event) {}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event)

func (f NotifierFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

// LoggingNotifier logs events and takes no other action.
// Useful for development and debugging
type LoggingNotifier struct {
	logger *slog.Logger
}

// NewLoggingNotifier creates a notifier that writes each event to logger
func NewLoggingNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingNotifier{logger: logger}
}

func (l *LoggingNotifier) Publish(ctx context.Context, event Event) {
	l.logger.InfoContext(ctx, "Upload event",
		"type", event.Type, "stored_key", event.StoredKey, "original_name", event.OriginalName)
}
