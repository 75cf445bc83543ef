package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OperationsTotal        *prometheus.CounterVec
	DenialsTotal           *prometheus.CounterVec
	SecurityScore          prometheus.Histogram
	FingerprintSimilarity  prometheus.Histogram
	RemoteCallDuration     *prometheus.HistogramVec
	ManagerTransitions     *prometheus.CounterVec
	ExpiredDeactivated     prometheus.Counter
	CleanupDurationSeconds prometheus.Histogram
}

// New registers the session collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_session_operations_total",
			Help: "Session operations by action and outcome",
		}, []string{"action", "outcome"}),
		DenialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_session_denials_total",
			Help: "Refused session operations by reason",
		}, []string{"reason"}),
		SecurityScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_session_security_score",
			Help:    "Security score reported by successful validations",
			Buckets: []float64{20, 40, 60, 70, 80, 90, 100},
		}),
		FingerprintSimilarity: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_session_fingerprint_similarity",
			Help:    "Similarity between stored and presented device fingerprints",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),
		RemoteCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_session_remote_call_duration_seconds",
			Help:    "Latency of calls to the remote session service",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		ManagerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_session_manager_transitions_total",
			Help: "Client session manager state transitions by target state",
		}, []string{"state"}),
		ExpiredDeactivated: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_session_expired_deactivated_total",
			Help: "Sessions deactivated by the cleanup worker after expiry",
		}),
		CleanupDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name: "aegis_session_cleanup_duration_seconds",
			Help: "Duration of session cleanup runs in seconds",
		}),
	}
}

func (m *Metrics) ObserveOperation(action string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.OperationsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncrementDenial(reason string) {
	m.DenialsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveValidation(score int, similarity float64) {
	m.SecurityScore.Observe(float64(score))
	m.FingerprintSimilarity.Observe(similarity)
}

func (m *Metrics) ObserveRemoteCall(action string, seconds float64) {
	m.RemoteCallDuration.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) IncrementTransition(state string) {
	m.ManagerTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveCleanup(seconds float64, deactivated int) {
	m.CleanupDurationSeconds.Observe(seconds)
	m.ExpiredDeactivated.Add(float64(deactivated))
}
