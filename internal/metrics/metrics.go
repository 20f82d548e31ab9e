package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DocumentsIngested *prometheus.CounterVec
	Allocations       *prometheus.CounterVec
	AllocatedQuantity *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	m.DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nfe_documents_ingested_total",
			Help: "NF-e ingestion attempts by outcome (accepted, already_imported, invalid, error)",
		},
		[]string{"outcome"},
	)

	m.Allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nfe_allocations_total",
			Help: "Allocation attempts by mode and resulting queue status (or error)",
		},
		[]string{"mode", "outcome"},
	)

	m.AllocatedQuantity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nfe_allocated_quantity_total",
			Help: "Quantity issued against entry lots",
		},
		[]string{"mode"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DocumentsIngested,
		m.Allocations,
		m.AllocatedQuantity,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordIngest(outcome string) {
	m.DocumentsIngested.WithLabelValues(outcome).Inc()
}

// RecordAllocation counts one allocation call. quantity is the amount issued
// by the call and is zero when nothing was allocated.
func (m *Metrics) RecordAllocation(mode, outcome string, quantity decimal.Decimal) {
	m.Allocations.WithLabelValues(mode, outcome).Inc()
	if quantity.IsPositive() {
		f, _ := quantity.Float64()
		m.AllocatedQuantity.WithLabelValues(mode).Add(f)
	}
}
