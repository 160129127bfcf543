// Package metrics provides Prometheus metrics for issuance, anchoring,
// verification, revocation and proofs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements the metrics ports of the ledger pool, the content store
// client and the credential workflows.
type Metrics struct {
	// Ledger
	NetworkHealthy         *prometheus.GaugeVec     // 1 when the network passed its last health check
	SubmissionsTotal       *prometheus.CounterVec   // Ledger submissions by network and outcome
	ConfirmationWaitSecond *prometheus.HistogramVec // Time spent waiting for confirmation depth

	// Storage
	StorageDegraded prometheus.Gauge // 1 while the content store is in degraded mode

	// Workflows
	IssuancesTotal        *prometheus.CounterVec // Issuance outcomes (active, pending, failed, error)
	IssuanceDuration      prometheus.Histogram
	VerificationsTotal    *prometheus.CounterVec // Verification outcomes (active, revoked, expired, hash_mismatch...)
	RevocationsTotal      *prometheus.CounterVec
	ProofsTotal           *prometheus.CounterVec // Proof outcomes by proof type
	ReconciledAnchorTotal *prometheus.CounterVec // Anchors settled by the reconcile worker
}

// New registers all metrics with reg, or the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		NetworkHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credanchor_ledger_network_healthy",
			Help: "Whether a ledger network passed its last health check",
		}, []string{"network"}),

		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_ledger_submissions_total",
			Help: "Total ledger transaction submissions by network and outcome",
		}, []string{"network", "outcome"}),

		ConfirmationWaitSecond: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credanchor_ledger_confirmation_wait_seconds",
			Help:    "Time spent waiting for a transaction to reach confirmation depth",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		}, []string{"network"}),

		StorageDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credanchor_storage_degraded",
			Help: "Whether the content-addressed store is in degraded mode",
		}),

		IssuancesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_issuances_total",
			Help: "Total credential issuances by resulting status",
		}, []string{"outcome"}),

		IssuanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credanchor_issuance_duration_seconds",
			Help:    "Duration of issuance requests including the first confirmation wait",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),

		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_verifications_total",
			Help: "Total credential verifications by outcome",
		}, []string{"outcome"}),

		RevocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_revocations_total",
			Help: "Total revocation requests by outcome",
		}, []string{"outcome"}),

		ProofsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_proofs_total",
			Help: "Total proof requests by proof type and outcome",
		}, []string{"type", "outcome"}),

		ReconciledAnchorTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_reconciled_anchors_total",
			Help: "Anchors whose outcome was recorded by the reconcile worker",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SetNetworkHealth(network string, healthy bool) {
	m.NetworkHealthy.WithLabelValues(network).Set(boolGauge(healthy))
}

func (m *Metrics) IncSubmission(network, outcome string) {
	m.SubmissionsTotal.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) ObserveConfirmationWait(network string, seconds float64) {
	m.ConfirmationWaitSecond.WithLabelValues(network).Observe(seconds)
}

func (m *Metrics) SetStorageDegraded(degraded bool) {
	m.StorageDegraded.Set(boolGauge(degraded))
}

func (m *Metrics) IncIssuance(outcome string) {
	m.IssuancesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIssuanceDuration(seconds float64) {
	m.IssuanceDuration.Observe(seconds)
}

func (m *Metrics) IncVerification(outcome string) {
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRevocation(outcome string) {
	m.RevocationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncProof(proofType, outcome string) {
	m.ProofsTotal.WithLabelValues(proofType, outcome).Inc()
}

// RecordReconcile counts the outcomes of one reconcile pass.
func (m *Metrics) RecordReconcile(confirmed, reverted int) {
	m.ReconciledAnchorTotal.WithLabelValues("confirmed").Add(float64(confirmed))
	m.ReconciledAnchorTotal.WithLabelValues("reverted").Add(float64(reverted))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
