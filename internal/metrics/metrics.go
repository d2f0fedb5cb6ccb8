// Package metrics holds the prometheus collectors shared by the resolver, its
// fetchers and the persistence queue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "playerident"

type Metrics struct {
	SourceAttempts *prometheus.CounterVec
	CacheUpdates   *prometheus.CounterVec
	WriteBatches   *prometheus.CounterVec
	QueuedWrites   prometheus.Gauge
	RateLimited    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SourceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_attempts_total",
			Help:      "Attempts against a resolution source, by chain, source and outcome.",
		}, []string{"chain", "source", "outcome"}),
		CacheUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_updates_total",
			Help:      "Identity cache mutations, by kind.",
		}, []string{"kind"}),
		WriteBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_batches_total",
			Help:      "Persistence batches executed, by result.",
		}, []string{"result"}),
		QueuedWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_write_batches",
			Help:      "Persistence batches waiting in the write queue.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Times an external service was marked rate limited.",
		}, []string{"service"}),
	}
	if reg != nil {
		reg.MustRegister(m.SourceAttempts, m.CacheUpdates, m.WriteBatches, m.QueuedWrites, m.RateLimited)
	}
	return m
}
