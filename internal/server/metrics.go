package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors of one server. They live on a
// private registry so that several servers can coexist in one process.
//
//   - deid_http_requests_total{route,method,status}
//   - deid_redaction_values_total{outcome} - redacted, unchanged or normalized
//   - deid_placeholders_total{placeholder}
//   - deid_redaction_duration_seconds - per request
//   - deid_rate_limited_total
type metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	values        *prometheus.CounterVec
	placeholders  *prometheus.CounterVec
	redactionTime prometheus.Histogram
	rateLimited   prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deid_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		values: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deid_redaction_values_total",
				Help: "Values passed through the redaction API",
			},
			[]string{"outcome"},
		),
		placeholders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deid_placeholders_total",
				Help: "Placeholder tokens emitted by the redaction API",
			},
			[]string{"placeholder"},
		),
		redactionTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deid_redaction_duration_seconds",
				Help:    "Time spent redacting one API request",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deid_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}
}
