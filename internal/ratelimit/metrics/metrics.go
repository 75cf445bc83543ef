package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal            *prometheus.CounterVec
	BurstsDetectedTotal    *prometheus.CounterVec
	SourcesFlaggedTotal    *prometheus.CounterVec
	SuspiciousSources      prometheus.Gauge
	ActiveOverrides        prometheus.Gauge
	CleanupRunsTotal       *prometheus.CounterVec
	CleanupDurationSeconds prometheus.Histogram
	CleanupWindowsRemoved  prometheus.Counter
}

// New registers the rate-limit collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_checks_total",
			Help: "Rate limit checks by action and outcome",
		}, []string{"action", "outcome"}),
		BurstsDetectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_bursts_detected_total",
			Help: "Burst patterns that installed a dynamic override",
		}, []string{"action"}),
		SourcesFlaggedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_sources_flagged_total",
			Help: "Sources newly added to the suspicious set, by reason",
		}, []string{"reason"}),
		SuspiciousSources: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_ratelimit_suspicious_sources",
			Help: "Sources currently in the suspicious set",
		}),
		ActiveOverrides: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_ratelimit_active_overrides",
			Help: "Dynamic limit overrides currently in force",
		}),
		CleanupRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_cleanup_runs_total",
			Help: "Cleanup worker runs by status",
		}, []string{"status"}),
		CleanupDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name: "aegis_ratelimit_cleanup_duration_seconds",
			Help: "Duration of cleanup runs in seconds",
		}),
		CleanupWindowsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_ratelimit_cleanup_windows_removed_total",
			Help: "Idle sliding windows dropped by the cleanup worker",
		}),
	}
}

func (m *Metrics) ObserveCheck(action string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.ChecksTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncrementBurst(action string) {
	m.BurstsDetectedTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementFlagged(reason string) {
	m.SourcesFlaggedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetSuspiciousSources(n int) {
	m.SuspiciousSources.Set(float64(n))
}

func (m *Metrics) SetActiveOverrides(n int) {
	m.ActiveOverrides.Set(float64(n))
}

func (m *Metrics) ObserveCleanup(status string, seconds float64, windowsRemoved int) {
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
	m.CleanupDurationSeconds.Observe(seconds)
	m.CleanupWindowsRemoved.Add(float64(windowsRemoved))
}
