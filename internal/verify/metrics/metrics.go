package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification pipeline.
type Metrics struct {
	// Pipeline outcomes by result (valid, revoked, or error code)
	Verifications *prometheus.CounterVec

	// Time from identifier to final view model
	VerifyDuration prometheus.Histogram

	// Metadata document fetches by gateway role (primary, fallback, direct) and result
	MetadataFetches *prometheus.CounterVec

	// Primary gateway circuit state (1 open, 0 closed)
	GatewayCircuitOpen prometheus.Gauge

	// Name cache lookups by result (hit, miss, negative, timeout, error, canceled)
	AliasLookups *prometheus.CounterVec

	// Upstream alias resolutions actually started
	AliasUpstreamCalls prometheus.Counter

	// Export renders by result
	Exports *prometheus.CounterVec
}

// New registers pipeline metrics against reg. A nil reg uses a private
// registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_verifications_total",
			Help: "Verification pipeline outcomes",
		}, []string{"outcome"}),
		VerifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credverify_verify_duration_seconds",
			Help:    "Time to produce the final view model",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		MetadataFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_metadata_fetches_total",
			Help: "Metadata document fetches by gateway and result",
		}, []string{"gateway", "result"}),
		GatewayCircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credverify_metadata_gateway_circuit_open",
			Help: "Whether the primary metadata gateway circuit is open",
		}),
		AliasLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_alias_lookups_total",
			Help: "Name cache lookups by result",
		}, []string{"result"}),
		AliasUpstreamCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "credverify_alias_upstream_calls_total",
			Help: "Upstream alias resolutions started",
		}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_exports_total",
			Help: "Credential exports by result",
		}, []string{"result"}),
	}
}

// ObserveVerification records a finished pipeline run.
func (m *Metrics) ObserveVerification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
	m.VerifyDuration.Observe(d.Seconds())
}

// IncrementMetadataFetch records one gateway request.
func (m *Metrics) IncrementMetadataFetch(gateway, result string) {
	if m != nil {
		m.MetadataFetches.WithLabelValues(gateway, result).Inc()
	}
}

// SetGatewayCircuit records the primary gateway circuit position.
func (m *Metrics) SetGatewayCircuit(open bool) {
	if m == nil {
		return
	}
	if open {
		m.GatewayCircuitOpen.Set(1)
	} else {
		m.GatewayCircuitOpen.Set(0)
	}
}

// IncrementAliasLookup records one name cache lookup.
func (m *Metrics) IncrementAliasLookup(result string) {
	if m != nil {
		m.AliasLookups.WithLabelValues(result).Inc()
	}
}

// IncrementAliasUpstream records one upstream resolution.
func (m *Metrics) IncrementAliasUpstream() {
	if m != nil {
		m.AliasUpstreamCalls.Inc()
	}
}

// IncrementExport records one export attempt.
func (m *Metrics) IncrementExport(result string) {
	if m != nil {
		m.Exports.WithLabelValues(result).Inc()
	}
}
