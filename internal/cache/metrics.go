package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the scoring cache.
type Metrics struct {
	HitsTotal      *prometheus.CounterVec
	MissesTotal    *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
	Size           *prometheus.GaugeVec
}

// NewMetrics creates and registers the cache metrics on the default
// registry. Registration happens once per process.
//
// Metrics:
//   - patternd_cache_hits_total{table}
//   - patternd_cache_misses_total{table}
//   - patternd_cache_evictions_total{table}
//   - patternd_cache_size{table}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return globalMetrics
}

// NewMetricsWithRegistry registers the cache metrics on reg. Tests use it
// with a fresh registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		HitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patternd_cache_hits_total",
				Help: "Total number of scoring cache hits",
			},
			[]string{"table"},
		),
		MissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patternd_cache_misses_total",
				Help: "Total number of scoring cache misses",
			},
			[]string{"table"},
		),
		EvictionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patternd_cache_evictions_total",
				Help: "Total number of scoring cache evictions, expirations and purges",
			},
			[]string{"table"},
		),
		Size: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patternd_cache_size",
				Help: "Current number of entries per scoring cache table",
			},
			[]string{"table"},
		),
	}
}

// RecordHit records a cache hit.
func (m *Metrics) RecordHit(table string) {
	if m == nil {
		return
	}
	m.HitsTotal.WithLabelValues(table).Inc()
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss(table string) {
	if m == nil {
		return
	}
	m.MissesTotal.WithLabelValues(table).Inc()
}

// RecordEviction records an evicted entry.
func (m *Metrics) RecordEviction(table string) {
	if m == nil {
		return
	}
	m.EvictionsTotal.WithLabelValues(table).Inc()
}

// SetSize updates the size gauge of a table.
func (m *Metrics) SetSize(table string, size int) {
	if m == nil {
		return
	}
	m.Size.WithLabelValues(table).Set(float64(size))
}
