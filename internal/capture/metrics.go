package capture

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type agentMetrics struct {
	deliveries *prometheus.CounterVec
	missed     *prometheus.CounterVec
	selfStops  prometheus.Counter
}

var (
	metricsInstance *agentMetrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

func newAgentMetrics() *agentMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &agentMetrics{
			deliveries: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "background_capture_deliveries_total",
				Help: "Background task invocations by outcome",
			}, []string{"outcome"}),
			missed: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "background_capture_missed_deliveries_total",
				Help: "Background deliveries that could not be handled, by reason",
			}, []string{"reason"}),
			selfStops: promauto.With(defaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "background_capture_self_stops_total",
				Help: "Times the background agent stopped OS updates on its own",
			}),
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
