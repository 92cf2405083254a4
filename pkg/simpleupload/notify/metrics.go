package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts delivery problems. A nil registerer creates collectors that
// are not registered anywhere.
type Metrics struct {
	failures *prometheus.CounterVec
	dropped  prometheus.Counter
}

// NewMetrics creates the fan-out collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simpleupload",
			Name:      "notify_failures_total",
			Help:      "Notification deliveries that failed, by sink",
		}, []string{"sink"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "simpleupload",
			Name:      "notify_dropped_total",
			Help:      "Events dropped because the dispatch queue was full",
		}),
	}
}

func (m *Metrics) failure(sink string) {
	if m != nil {
		m.failures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}
