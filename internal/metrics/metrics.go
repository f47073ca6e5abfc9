package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paymentwall"

// Registry owns the service collectors.
type Registry struct {
	reg           *prometheus.Registry
	transfers     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	retries       prometheus.Counter
	compensations *prometheus.CounterVec
	reconcile     *prometheus.GaugeVec
}

// New registers the transfer and reconciliation collectors on a fresh registry.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Transfers by outcome and currency.",
		}, []string{"outcome", "currency"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Time spent executing a transfer.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_retries_total",
			Help:      "Balance updates retried after a version conflict.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_compensations_total",
			Help:      "Compensating balance reversals by result.",
		}, []string{"ok"}),
		reconcile: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_findings",
			Help:      "Findings of the latest reconciliation run by kind.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(
		r.transfers, r.duration, r.retries, r.compensations, r.reconcile,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// TransferFinished records one transfer outcome.
func (r *Registry) TransferFinished(outcome, currency string, elapsed time.Duration) {
	if currency == "" {
		currency = "unknown"
	}
	r.transfers.WithLabelValues(outcome, currency).Inc()
	r.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Retried counts a version-conflict retry.
func (r *Registry) Retried() {
	r.retries.Inc()
}

// Compensated counts a compensating reversal.
func (r *Registry) Compensated(ok bool) {
	r.compensations.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// ReconcileFindings publishes the finding counts of a reconciliation run.
func (r *Registry) ReconcileFindings(counts map[string]int) {
	r.reconcile.Reset()
	for kind, n := range counts {
		r.reconcile.WithLabelValues(kind).Set(float64(n))
	}
}

// Gatherer exposes the registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
}
