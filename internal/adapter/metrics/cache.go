package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics tracks the layered reward ladder cache. Lookups are labelled
// by layer (memory, redis) and result (hit, miss).
type CacheMetrics struct {
	Lookups       *prometheus.CounterVec
	Invalidations prometheus.Counter
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)
	return &CacheMetrics{
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reward_cache",
			Name:      "lookups_total",
			Help:      "Reward ladder cache lookups by layer and result.",
		}, []string{"layer", "result"}),
		Invalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reward_cache",
			Name:      "invalidations_total",
			Help:      "Reward ladder cache invalidations after a ladder change.",
		}),
	}
}

func (m *CacheMetrics) Hit(layer string)  { m.Lookups.WithLabelValues(layer, "hit").Inc() }
func (m *CacheMetrics) Miss(layer string) { m.Lookups.WithLabelValues(layer, "miss").Inc() }
