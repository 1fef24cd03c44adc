package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes recorded by ObserveStream.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Metrics owns a private registry so tests and multiple servers do not
// collide on the default one. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	streams          *prometheus.CounterVec
	fragments        prometheus.Counter
	persistFailures  *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
}

// New registers the service collectors plus the Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fengnong_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fengnong_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		streams: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fengnong_chat_streams_total",
			Help: "Streaming chat exchanges by outcome.",
		}, []string{"outcome"}),
		fragments: factory.NewCounter(prometheus.CounterOpts{
			Name: "fengnong_chat_fragments_total",
			Help: "Fragments forwarded to callers.",
		}),
		persistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fengnong_history_persist_failures_total",
			Help: "Failed sys_history writes by role.",
		}, []string{"role"}),
		upstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fengnong_upstream_failures_total",
			Help: "Failed model calls by operation.",
		}, []string{"op"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStream(outcome string) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFragment() {
	if m == nil {
		return
	}
	m.fragments.Inc()
}

func (m *Metrics) ObservePersistFailure(role string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(role).Inc()
}

func (m *Metrics) ObserveUpstreamFailure(op string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(op).Inc()
}
