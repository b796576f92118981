package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the wallet session lifecycle.
type Metrics struct {
	// Transitions by target status
	Transitions *prometheus.CounterVec

	// Connect attempt results by error code ("ok" on success)
	ConnectOutcomes *prometheus.CounterVec

	// Results discarded because a newer cycle superseded them
	StaleCycles prometheus.Counter

	// Network repair attempts by step (switch, add)
	NetworkRepairs *prometheus.CounterVec
}

// New registers session metrics against reg. A nil reg uses a private
// registry so tests can build many managers.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_session_transitions_total",
			Help: "Session state transitions by target status",
		}, []string{"status"}),
		ConnectOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_session_connect_outcomes_total",
			Help: "Connect attempt outcomes by error code",
		}, []string{"outcome"}),
		StaleCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "credverify_session_stale_cycles_total",
			Help: "Connect cycle results dropped after being superseded",
		}),
		NetworkRepairs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credverify_session_network_repairs_total",
			Help: "Network repair requests by step and result",
		}, []string{"step", "result"}),
	}
}

// IncrementTransition records a transition into status.
func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.Transitions.WithLabelValues(status).Inc()
	}
}

// IncrementConnectOutcome records how a connect attempt ended.
func (m *Metrics) IncrementConnectOutcome(outcome string) {
	if m != nil {
		m.ConnectOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncrementStaleCycle records a dropped superseded result.
func (m *Metrics) IncrementStaleCycle() {
	if m != nil {
		m.StaleCycles.Inc()
	}
}

// IncrementNetworkRepair records one switch or add request.
func (m *Metrics) IncrementNetworkRepair(step, result string) {
	if m != nil {
		m.NetworkRepairs.WithLabelValues(step, result).Inc()
	}
}
