package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator counters. A nil *Metrics is safe to use so
// components can run without a registry in tests.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers orchestrator metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_cache_lookups_total",
			Help: "Semantic cache lookups by outcome.",
		}, []string{"outcome"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_decisions_total",
			Help: "Routing decisions by tag.",
		}, []string{"decision", "tag"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_request_duration_seconds",
			Help:    "End-to-end query processing time by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
	}
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordDecision counts a routing decision.
func (m *Metrics) RecordDecision(decision, tag string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, tag).Inc()
}

// RecordRequest observes one request's duration.
func (m *Metrics) RecordRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
