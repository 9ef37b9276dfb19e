// Package metrics holds the Prometheus collectors of the clustering
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go-citizenlink/types"
)

const namespace = "citizenlink"

type Metrics struct {
	Runs           *prometheus.CounterVec
	SkippedTicks   prometheus.Counter
	RunDuration    prometheus.Histogram
	Generation     prometheus.Gauge
	Clusters       *prometheus.GaugeVec
	Chains         prometheus.Gauge
	Excluded       *prometheus.CounterVec
	GeocodeLookups *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clustering_runs_total",
			Help:      "Clustering runs by result (success, failure, unchanged).",
		}, []string{"result"}),
		SkippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clustering_skipped_ticks_total",
			Help:      "Ticks and triggers dropped because a run was in flight.",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clustering_run_duration_seconds",
			Help:      "Wall time of clustering runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Generation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_generation",
			Help:      "Generation of the published snapshot.",
		}),
		Clusters: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_clusters",
			Help:      "Clusters in the published snapshot by category.",
		}, []string{"category"}),
		Chains: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_chains",
			Help:      "Causal chains in the published snapshot.",
		}),
		Excluded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "complaints_excluded_total",
			Help:      "Complaints kept out of clustering by reason.",
		}, []string{"reason"}),
		GeocodeLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_resolutions_total",
			Help:      "Reverse geocode resolutions by outcome (hit, miss, stale, error).",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveRun(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) SkipTick() {
	if m == nil {
		return
	}
	m.SkippedTicks.Inc()
}

// Published records the shape of a freshly swapped snapshot.
func (m *Metrics) Published(s *types.Snapshot) {
	if m == nil {
		return
	}
	m.Generation.Set(float64(s.Generation))
	m.Chains.Set(float64(len(s.Chains)))

	m.Clusters.Reset()
	for _, c := range s.Clusters {
		m.Clusters.WithLabelValues(string(c.Category)).Inc()
	}
	for reason, n := range s.Stats.Excluded {
		m.Excluded.WithLabelValues(string(reason)).Add(float64(n))
	}
}

func (m *Metrics) Geocode(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeLookups.WithLabelValues(outcome).Inc()
}
