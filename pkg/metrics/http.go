package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initHTTPMetrics initializes admin API metrics. The route label carries the
// chi route pattern ("/api/v1/deadletters/{id}"), not the raw URL path, so
// cardinality stays bounded no matter what IDs clients request.
func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Admin API requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin API request latency by method and route pattern",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "route"},
	)

	m.httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Admin API requests currently being served",
		},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpInFlight)
}

// RecordHTTPRequest records one completed admin API request.
func (m *Manager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncInFlight marks one admin API request as started.
func (m *Manager) IncInFlight() {
	if !m.enabled {
		return
	}
	m.httpInFlight.Inc()
}

// DecInFlight marks one admin API request as finished.
func (m *Manager) DecInFlight() {
	if !m.enabled {
		return
	}
	m.httpInFlight.Dec()
}
