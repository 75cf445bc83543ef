package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ViolationsTotal        *prometheus.CounterVec
	DecisionsTotal         *prometheus.CounterVec
	RiskScore              prometheus.Histogram
	TrackedSources         prometheus.Gauge
	BlockedSources         prometheus.Gauge
	SourceEvictionsTotal   prometheus.Counter
	AlertsDispatchedTotal  *prometheus.CounterVec
	RuntimeErrorsTotal     *prometheus.CounterVec
	BlocksExpiredTotal     prometheus.Counter
	CleanupDurationSeconds prometheus.Histogram
}

// New registers the escalation collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ViolationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_escalation_violations_total",
			Help: "Policy violations received, by kind",
		}, []string{"kind"}),
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_escalation_decisions_total",
			Help: "Escalation decisions by tier",
		}, []string{"tier"}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_escalation_risk_score",
			Help:    "Distribution of violation risk scores",
			Buckets: []float64{10, 20, 40, 60, 70, 80, 90, 100},
		}),
		TrackedSources: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_escalation_tracked_sources",
			Help: "Sources with a live violation counter",
		}),
		BlockedSources: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_escalation_blocked_sources",
			Help: "Sources currently blocked",
		}),
		SourceEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_escalation_source_evictions_total",
			Help: "Violation counters evicted to stay within the tracked-source bound",
		}),
		AlertsDispatchedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_escalation_alerts_dispatched_total",
			Help: "Alerts handed to sinks, by sink and outcome",
		}, []string{"sink", "outcome"}),
		RuntimeErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_escalation_runtime_errors_total",
			Help: "Runtime error reports by whether they looked XSS-indicative",
		}, []string{"indicative"}),
		BlocksExpiredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_escalation_blocks_expired_total",
			Help: "Blocks lifted by the cleanup worker",
		}),
		CleanupDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name: "aegis_escalation_cleanup_duration_seconds",
			Help: "Duration of block cleanup runs in seconds",
		}),
	}
}

func (m *Metrics) ObserveDecision(kind, tier string, score int) {
	m.ViolationsTotal.WithLabelValues(kind).Inc()
	m.DecisionsTotal.WithLabelValues(tier).Inc()
	m.RiskScore.Observe(float64(score))
}

func (m *Metrics) SetSources(tracked, blocked int) {
	m.TrackedSources.Set(float64(tracked))
	m.BlockedSources.Set(float64(blocked))
}

func (m *Metrics) IncrementEviction() {
	m.SourceEvictionsTotal.Inc()
}

func (m *Metrics) ObserveAlert(sink string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.AlertsDispatchedTotal.WithLabelValues(sink, outcome).Inc()
}

func (m *Metrics) ObserveRuntimeError(indicative bool) {
	label := "false"
	if indicative {
		label = "true"
	}
	m.RuntimeErrorsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveCleanup(seconds float64, expired int) {
	m.CleanupDurationSeconds.Observe(seconds)
	m.BlocksExpiredTotal.Add(float64(expired))
}
