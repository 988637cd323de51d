package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/callkit/bus"
)

const namespace = "callkit"

// Metrics holds the server's Prometheus collectors on a private registry.
// It also observes the event bus.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	subscribers     prometheus.Gauge

	thinks        *prometheus.CounterVec
	thinkDuration *prometheus.HistogramVec
	thinkInflight prometheus.Gauge
	tokens        *prometheus.CounterVec

	rateLimitWait *prometheus.HistogramVec
}

var _ bus.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events published on the bus.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Events dropped from full subscriber queues.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Live bus subscribers.",
		}),
		thinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "total",
			Help:      "Think operations by outcome.",
		}, []string{"provider", "outcome"}),
		thinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "duration_seconds",
			Help:      "Think latency including the provider call.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		thinkInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "inflight",
			Help:      "Think operations currently running.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "direction"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a provider token.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"provider"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.eventsPublished, m.eventsDropped, m.subscribers,
		m.thinks, m.thinkDuration, m.thinkInflight, m.tokens,
		m.rateLimitWait,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// RecordHTTPRequest records one served request. route is the matched
// route pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, route, statusLabel).Observe(d.Seconds())
}

// ThinkStarted marks a think as in flight.
func (m *Metrics) ThinkStarted() {
	m.thinkInflight.Inc()
}

// ThinkFinished records a think outcome such as "ok", "busy" or "provider_error".
func (m *Metrics) ThinkFinished(provider, outcome string, d time.Duration) {
	m.thinkInflight.Dec()
	m.thinks.WithLabelValues(provider, outcome).Inc()
	m.thinkDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ThinkRejected records a think refused before it started.
func (m *Metrics) ThinkRejected(provider, outcome string) {
	m.thinks.WithLabelValues(provider, outcome).Inc()
}

// Tokens adds provider token usage.
func (m *Metrics) Tokens(provider string, in, out int) {
	m.tokens.WithLabelValues(provider, "input").Add(float64(in))
	m.tokens.WithLabelValues(provider, "output").Add(float64(out))
}

// RateLimitWait records time blocked on a provider limiter.
func (m *Metrics) RateLimitWait(provider string, d time.Duration) {
	m.rateLimitWait.WithLabelValues(provider).Observe(d.Seconds())
}

// EventPublished implements bus.Observer.
func (m *Metrics) EventPublished(t bus.EventType) {
	m.eventsPublished.WithLabelValues(string(t)).Inc()
}

// EventDropped implements bus.Observer.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// SubscribersChanged implements bus.Observer.
func (m *Metrics) SubscribersChanged(n int) {
	m.subscribers.Set(float64(n))
}
