package build

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coldog/roller/pkg/graph"
	"github.com/coldog/roller/pkg/module"
)

// Metrics holds the Prometheus metrics of a builder.
type Metrics struct {
	Builds     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Modules    prometheus.Gauge
	CacheHits  prometheus.Counter
	ChunkBytes *prometheus.GaugeVec
}

// NewMetrics registers the build metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Builds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "roller",
				Name:      "builds_total",
				Help:      "Total number of builds by split mode and result",
			},
			[]string{"mode", "result"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "roller",
				Name:      "build_duration_seconds",
				Help:      "Build duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"mode"},
		),
		Modules: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "roller",
				Name:      "graph_modules",
				Help:      "Number of modules in the last graph",
			},
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "roller",
				Name:      "cache_hits_total",
				Help:      "Total number of modules reused from a previous build",
			},
		),
		ChunkBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "roller",
				Name:      "chunk_bytes",
				Help:      "Size of the last packed chunk",
			},
			[]string{"chunk"},
		),
	}
}

func (m *Metrics) observe(mode string, res *Result, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Builds.WithLabelValues(mode, "error").Inc()
		return
	}
	m.Builds.WithLabelValues(mode, "ok").Inc()
	m.Duration.WithLabelValues(mode).Observe(res.Duration.Seconds())
	m.Modules.Set(float64(len(res.Graph)))
	for _, c := range res.Chunks {
		m.ChunkBytes.WithLabelValues(c.Name).Set(float64(len(c.Data)))
	}
}

// countingCache counts hits of the wrapped cache.
type countingCache struct {
	graph.Cache
	hits prometheus.Counter
}

func (c countingCache) Lookup(requester, id string) (*module.Module, bool) {
	m, ok := c.Cache.Lookup(requester, id)
	if ok && c.hits != nil {
		c.hits.Inc()
	}
	return m, ok
}
