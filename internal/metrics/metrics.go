// Package metrics holds the Prometheus instrumentation for the fusion
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the service collectors. Construct once per process and
// share between the orchestrator, reconciler and HTTP layer.
type Metrics struct {
	SubmissionsTotal   *prometheus.CounterVec
	FusionsFinalized   *prometheus.CounterVec
	ExternalCallSecs   *prometheus.HistogramVec
	ReconcilerSweeps   prometheus.Counter
	ReconcilerResolved *prometheus.CounterVec
	LocksHeld          prometheus.Gauge
}

// New registers the collectors with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseforge",
			Name:      "submissions_total",
			Help:      "Fusion submissions by immediate outcome (accepted, validation_error, conflict, error).",
		}, []string{"outcome"}),
		FusionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseforge",
			Name:      "fusions_finalized_total",
			Help:      "Fusions reaching a terminal status, by status and resolver.",
		}, []string{"status", "resolver"}),
		ExternalCallSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fuseforge",
			Name:      "external_call_duration_seconds",
			Help:      "Duration of generation and mint calls, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"target"}),
		ReconcilerSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuseforge",
			Name:      "reconciler_sweeps_total",
			Help:      "Completed reconciliation sweeps.",
		}),
		ReconcilerResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseforge",
			Name:      "reconciler_resolved_total",
			Help:      "Stuck fusions resolved by the reconciler, by final status.",
		}, []string{"status"}),
		LocksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuseforge",
			Name:      "parent_locks_held",
			Help:      "Parent asset locks currently held by in-flight fusions.",
		}),
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.FusionsFinalized,
		m.ExternalCallSecs,
		m.ReconcilerSweeps,
		m.ReconcilerResolved,
		m.LocksHeld,
	)
	return m
}

// NewNop returns an unregistered bundle for tests that do not assert on
// metric output.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
