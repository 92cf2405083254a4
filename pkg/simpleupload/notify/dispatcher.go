// Package notify fans upload events out to live subscribers.
//
// Delivery is best-effort. The Dispatcher queues events on a bounded channel
// that one goroutine drains into every configured Sink; a full queue drops
// the event and a failing sink is logged and counted. Nothing here ever
// reports back to the code that published the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

const (
	DefaultBufferSize      = 256
	DefaultDeliveryTimeout = 5 * time.Second
)

// Sink delivers events to one kind of subscriber.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event simpleupload.Event) error
}

// Dispatcher implements simpleupload.Notifier on top of a set of sinks.
type Dispatcher struct {
	sinks           []Sink
	queue           chan simpleupload.Event
	deliveryTimeout time.Duration
	logger          *slog.Logger
	metrics         *Metrics
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithBufferSize sets the queue capacity
func WithBufferSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan simpleupload.Event, size)
		}
	}
}

// WithDeliveryTimeout bounds every single sink delivery
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.deliveryTimeout = timeout
	}
}

// WithLogger sets the logger used for dropped events and sink failures
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics counts failures and drops
func WithMetrics(metrics *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher for sinks. Events are only delivered
// while Run is active.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:           sinks,
		queue:           make(chan simpleupload.Event, DefaultBufferSize),
		deliveryTimeout: DefaultDeliveryTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish queues event without blocking. The request context is not used for
// delivery; it usually ends before the event is delivered.
func (d *Dispatcher) Publish(ctx context.Context, event simpleupload.Event) {
	select {
	case d.queue <- event:
	default:
		d.metrics.drop()
		d.logger.WarnContext(ctx, "Notification queue full, dropping event",
			"type", event.Type, "stored_key", event.StoredKey)
	}
}

// Run delivers queued events until ctx is cancelled. Events still queued at
// that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event simpleupload.Event) {
	for _, sink := range d.sinks {
		if err := d.deliverTo(ctx, sink, event); err != nil {
			d.metrics.failure(sink.Name())
			d.logger.Warn("Failed to deliver notification",
				"sink", sink.Name(), "type", event.Type, "stored_key", event.StoredKey, "err", err)
		}
	}
}

// deliverTo runs one sink delivery. A panicking sink is reported as a failed
// delivery and does not stop the dispatcher.
func (d *Dispatcher) deliverTo(ctx context.Context, sink Sink, event simpleupload.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()

	if d.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deliveryTimeout)
		defer cancel()
	}
	return sink.Deliver(ctx, event)
}
