package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// DefaultNATSSubject is the push topic events are published on.
const DefaultNATSSubject = "uploads"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes JSON encoded events to a NATS subject that push
// gateways subscribe to.
type NATSSink struct {
	publisher Publisher
	subject   string
	conn      *nats.Conn
}

// NewNATSSink publishes through an existing publisher.
func NewNATSSink(publisher Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSSink{publisher: publisher, subject: subject}
}

// ConnectNATS dials url and returns a sink owning the connection.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("simple-upload"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	sink := NewNATSSink(conn, subject)
	sink.conn = conn
	return sink, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject events are published on.
func (s *NATSSink) Subject() string { return s.subject }

func (s *NATSSink) Deliver(ctx context.Context, event simpleupload.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish to %q: %w", s.subject, err)
	}
	return nil
}

// Close drains the connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
