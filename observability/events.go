package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	depth     prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking outbound lifecycle events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Lifecycle events handed to the publisher segmented by status and outcome.",
			}, []string{"status", "outcome"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events discarded before delivery segmented by reason.",
			}, []string{"reason"}),
			depth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "queue_depth",
				Help:      "Events waiting for the publisher.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped, eventRegistry.depth)
	})
	return eventRegistry
}

// RecordPublish counts one publish attempt.
func (m *eventMetrics) RecordPublish(status string, ok bool) {
	if m == nil {
		return
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		status = "unknown"
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.published.WithLabelValues(status, outcome).Inc()
}

func (m *eventMetrics) RecordDropped(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dropped.WithLabelValues(reason).Add(float64(count))
}

func (m *eventMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
}
