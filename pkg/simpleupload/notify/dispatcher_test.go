package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-upload/pkg/simpleupload"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []simpleupload.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, event simpleupload.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) received() []simpleupload.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]simpleupload.Event(nil), s.events...)
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher([]Sink{a, b})
	runDispatcher(t, d)

	event := simpleupload.Event{Type: simpleupload.EventFileUploaded, StoredKey: "1-1-a.pdf", OriginalName: "a.pdf"}
	d.Publish(context.Background(), event)

	assert.Eventually(t, func() bool { return len(a.received()) == 1 && len(b.received()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, event, a.received()[0])
}

func TestDispatcher_SinkFailureIsCountedAndIsolated(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	failing := &recordingSink{name: "broken", err: errors.New("gateway down")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher([]Sink{failing, healthy}, WithMetrics(metrics))
	runDispatcher(t, d)

	d.Publish(context.Background(), simpleupload.Event{Type: simpleupload.EventPing})

	assert.Eventually(t, func() bool { return len(healthy.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("broken")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.failures.WithLabelValues("healthy")))
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	metrics := NewMetrics(nil)
	d := NewDispatcher(nil, WithBufferSize(2), WithMetrics(metrics))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			d.Publish(context.Background(), simpleupload.Event{Type: simpleupload.EventPing})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, 8.0, testutil.ToFloat64(metrics.dropped))
}

type slowSink struct{}

func (slowSink) Name() string { return "slow" }

func (slowSink) Deliver(ctx context.Context, event simpleupload.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcher_DeliveryTimeout(t *testing.T) {
	after := &recordingSink{name: "after"}
	d := NewDispatcher([]Sink{slowSink{}, after}, WithDeliveryTimeout(20*time.Millisecond))
	runDispatcher(t, d)

	d.Publish(context.Background(), simpleupload.Event{Type: simpleupload.EventPing})
	require.Eventually(t, func() bool { return len(after.received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}

type panickingSink struct{}

func (panickingSink) Name() string { return "panicky" }

func (panickingSink) Deliver(ctx context.Context, event simpleupload.Event) error {
	panic("sink bug")
}

func TestDispatcher_SinkPanicIsCountedAndIsolated(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher([]Sink{panickingSink{}, healthy}, WithMetrics(metrics))
	runDispatcher(t, d)

	d.Publish(context.Background(), simpleupload.Event{Type: simpleupload.EventPing})
	d.Publish(context.Background(), simpleupload.Event{Type: simpleupload.EventPing})

	require.Eventually(t, func() bool { return len(healthy.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.failures.WithLabelValues("panicky")))
}
