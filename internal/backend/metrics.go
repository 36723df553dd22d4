package backend

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts entry and administrative operations.
	// Labels: backend, op, result (ok, error, canceled, unsupported)
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obadir",
		Subsystem: "backend",
		Name:      "operations_total",
		Help:      "Backend operations by result",
	}, []string{"backend", "op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "obadir",
		Subsystem: "backend",
		Name:      "operation_duration_seconds",
		Help:      "Backend operation latency in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"backend", "op"})

	// searchesTotal counts searches by strategy (indexed, scan).
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obadir",
		Subsystem: "backend",
		Name:      "searches_total",
		Help:      "Searches by evaluation strategy",
	}, []string{"backend", "strategy"})

	persistentSearches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "obadir",
		Subsystem: "backend",
		Name:      "persistent_searches",
		Help:      "Registered persistent searches",
	}, []string{"backend"})

	// backendState reports the lifecycle state as its numeric value
	// (0 unconfigured, 1 configured, 2 open, 3 closed).
	backendState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "obadir",
		Subsystem: "backend",
		Name:      "state",
		Help:      "Backend lifecycle state",
	}, []string{"backend"})
)

func observe(backendID, op string, start time.Time, err error) {
	operationDuration.WithLabelValues(backendID, op).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(backendID, op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}
