package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the HTTP surface.
type Metrics struct {
	intakeTotal     *prometheus.CounterVec
	intakeBytes     prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		intakeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simpleupload",
			Name:      "intake_total",
			Help:      "Upload intakes by result",
		}, []string{"result"}),

		intakeBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "simpleupload",
			Name:      "intake_bytes_total",
			Help:      "Bytes of accepted uploads",
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simpleupload",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simpleupload",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Middleware records request count and duration labelled by the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) intake(result string, bytes int64) {
	m.intakeTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.intakeBytes.Add(float64(bytes))
	}
}
