package notify

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// LogSink writes every event to a logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event simpleupload.Event) error {
	s.logger.InfoContext(ctx, "Upload event",
		"type", event.Type, "stored_key", event.StoredKey, "original_name", event.OriginalName,
		"received_at", event.ReceivedAt)
	return nil
}
