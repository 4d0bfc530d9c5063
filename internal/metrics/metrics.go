package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/daap14/blueprints/internal/blueprint"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueprints_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blueprints_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueprints_store_operations_total",
				Help: "Total number of blueprint store operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blueprints_store_operation_duration_seconds",
				Help:    "Blueprint store operation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOperation records one repository call and classifies err.
func (m *Metrics) RecordStoreOperation(op string, err error, duration time.Duration) {
	m.StoreOperations.WithLabelValues(op, Outcome(err)).Inc()
	m.StoreDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// Outcome maps a repository error to its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, blueprint.ErrNotFound):
		return "not_found"
	case errors.Is(err, blueprint.ErrDuplicateKey):
		return "duplicate"
	case errors.Is(err, blueprint.ErrInvalidPoint):
		return "invalid_point"
	case errors.Is(err, blueprint.ErrBackendFailure):
		return "backend_failure"
	default:
		return "error"
	}
}
