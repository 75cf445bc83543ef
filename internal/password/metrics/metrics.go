package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AssessmentsTotal     *prometheus.CounterVec
	Scores               prometheus.Histogram
	BreachLookupsTotal   *prometheus.CounterVec
	BreachCacheTotal     *prometheus.CounterVec
	BreachLookupDuration prometheus.Histogram
	ReuseRejectionsTotal prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AssessmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_password_assessments_total",
			Help: "Password assessments by validity",
		}, []string{"valid"}),
		Scores: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_password_score",
			Help:    "Distribution of password strength scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		BreachLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_password_breach_lookups_total",
			Help: "Breach corpus lookups by outcome (breached, clean, error, circuit_open)",
		}, []string{"outcome"}),
		BreachCacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_password_breach_cache_total",
			Help: "Breach prefix cache lookups by result",
		}, []string{"result"}),
		BreachLookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_password_breach_lookup_duration_seconds",
			Help:    "Latency of remote breach range requests",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ReuseRejectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_password_reuse_total",
			Help: "Assessments penalized for reusing a recent password",
		}),
	}
}

func (m *Metrics) ObserveAssessment(score int, valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	m.AssessmentsTotal.WithLabelValues(label).Inc()
	m.Scores.Observe(float64(score))
}

func (m *Metrics) IncrementBreachLookup(outcome string) {
	m.BreachLookupsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.BreachCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBreachLatency(seconds float64) {
	m.BreachLookupDuration.Observe(seconds)
}

func (m *Metrics) IncrementReuse() {
	m.ReuseRejectionsTotal.Inc()
}
