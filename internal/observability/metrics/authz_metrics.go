// Package metrics exposes prometheus instrumentation for the authorization
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// AuthzMetrics captures engine health signals: resolution latency, filter
// install failures and integrity check outcomes.
type AuthzMetrics struct {
	resolveDuration prometheus.Histogram
	filterFailures  prometheus.Counter
	integrityChecks *prometheus.CounterVec
}

func NewAuthzMetrics(reg prometheus.Registerer) *AuthzMetrics {
	m := &AuthzMetrics{
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clavis",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent computing effective security keys.",
			Buckets:   prometheus.DefBuckets,
		}),
		filterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clavis",
			Name:      "filter_install_failures_total",
			Help:      "Row filters that could not be installed.",
		}),
		integrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clavis",
			Name:      "integrity_checks_total",
			Help:      "Integrity hash verifications by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.resolveDuration, m.filterFailures, m.integrityChecks)
	}
	return m
}

// NewNop returns unregistered metrics for tests.
func NewNop() *AuthzMetrics {
	return NewAuthzMetrics(nil)
}

// ObserveResolve times one resolution; call the returned func when done.
func (m *AuthzMetrics) ObserveResolve() func() {
	start := time.Now()
	return func() {
		m.resolveDuration.Observe(time.Since(start).Seconds())
	}
}

// FilterInstallFailed counts filters that failed to install.
func (m *AuthzMetrics) FilterInstallFailed(n int) {
	if n > 0 {
		m.filterFailures.Add(float64(n))
	}
}

// IntegrityCheck records one verification outcome.
func (m *AuthzMetrics) IntegrityCheck(ok bool) {
	result := "match"
	if !ok {
		result = "mismatch"
	}
	m.integrityChecks.WithLabelValues(result).Inc()
}

func provideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

var Module = fx.Module("observability.metrics",
	fx.Provide(provideRegisterer),
	fx.Provide(NewAuthzMetrics),
)
