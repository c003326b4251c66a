// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuthFailuresTotal   *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	CacheResults        *prometheus.CounterVec
	RateLimited         prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casting_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "casting_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casting_auth_failures_total",
				Help: "Rejected requests by authorization error code",
			},
			[]string{"code"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casting_events_published_total",
				Help: "Casting events handed to the broker",
			},
			[]string{"type", "result"}, // ok, error, dropped
		),
		CacheResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casting_cache_requests_total",
				Help: "List cache lookups by result",
			},
			[]string{"result"}, // hit, miss, bypass
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casting_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthFailuresTotal,
		m.EventsPublished,
		m.CacheResults,
		m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// AuthFailure counts a rejected token. Safe on a nil receiver so callers
// can run without metrics.
func (m *Metrics) AuthFailure(code string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(code).Inc()
}

// EventPublished counts a publish attempt with its result.
func (m *Metrics) EventPublished(eventType, result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
