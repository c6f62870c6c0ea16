package proximity

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type proximityMetrics struct {
	queries       *prometheus.CounterVec
	subscriptions *prometheus.CounterVec
	trackedPeers  prometheus.Gauge
	events        *prometheus.CounterVec
}

var (
	metricsInstance *proximityMetrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

func newProximityMetrics() *proximityMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &proximityMetrics{
			queries: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "proximity_queries_total",
				Help: "Nearby queries by kind and result",
			}, []string{"kind", "result"}),
			subscriptions: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "realtime_subscriptions_total",
				Help: "Realtime feed subscription attempts by result",
			}, []string{"result"}),
			trackedPeers: promauto.With(defaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "realtime_tracked_peers",
				Help: "Session ids in the current realtime filter",
			}),
			events: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "realtime_events_total",
				Help: "Realtime peer events by outcome",
			}, []string{"outcome"}),
		}
	})
	return metricsInstance
}

// For testing purposes - reset metrics
func resetMetricsForTesting() {
	defaultRegistry = prometheus.NewRegistry()
	metricsInstance = nil
	metricsOnce = sync.Once{}
}
