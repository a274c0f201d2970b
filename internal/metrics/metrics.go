package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/class-monitor/internal/behavior"
)

// Metrics holds all monitor metrics
type Metrics struct {
	// Frame pipeline counters
	FramesRead       atomic.Uint64
	FramesClassified atomic.Uint64
	FramesPublished  atomic.Uint64
	FramesDropped    atomic.Uint64

	// Error counters
	ReadErrors       atomic.Uint64
	PerceptionErrors atomic.Uint64
	StoreErrors      atomic.Uint64

	// Latency tracking
	FrameLatencyMs      atomic.Uint64 // capture to classified, last frame
	PerceptionLatencyMs atomic.Uint64 // sidecar round trip, last frame

	// Alerting
	AlertsRaised      atomic.Uint64
	AlertsSuppressed  atomic.Uint64
	NotifyQueueUsage  atomic.Uint64 // Percentage (0-100)
	NotifyDropped     atomic.Uint64
	SnapshotsRecorded atomic.Uint64

	// Dashboard clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	labels        *prometheus.CounterVec
	notifications *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("classmon_frames_read_total", "Total frames read from the camera source", &m.FramesRead)
	m.gauge("classmon_frames_classified_total", "Total frames classified", &m.FramesClassified)
	m.gauge("classmon_frames_published_total", "Total annotated frames published to the dashboard", &m.FramesPublished)
	m.gauge("classmon_frames_dropped_total", "Total frames skipped after an error", &m.FramesDropped)

	m.gauge("classmon_read_errors_total", "Total camera read errors", &m.ReadErrors)
	m.gauge("classmon_perception_errors_total", "Total perception sidecar errors", &m.PerceptionErrors)
	m.gauge("classmon_store_errors_total", "Total session store errors", &m.StoreErrors)

	m.gauge("classmon_frame_latency_ms", "Capture to classification latency of the last frame", &m.FrameLatencyMs)
	m.gauge("classmon_perception_latency_ms", "Perception round trip of the last frame", &m.PerceptionLatencyMs)

	m.gauge("classmon_alerts_raised_total", "Total alerts that passed the rate limiter", &m.AlertsRaised)
	m.gauge("classmon_alerts_suppressed_total", "Total non-normal frames suppressed by the rate limiter", &m.AlertsSuppressed)
	m.gauge("classmon_notify_queue_usage_percent", "Notification queue usage percentage", &m.NotifyQueueUsage)
	m.gauge("classmon_notify_dropped_total", "Total alerts dropped because the notification queue was full", &m.NotifyDropped)
	m.gauge("classmon_snapshots_recorded_total", "Total alert snapshots written", &m.SnapshotsRecorded)

	m.gauge("classmon_active_clients", "Number of connected dashboard clients", &m.ActiveClients)
	m.gauge("classmon_total_clients", "Total dashboard clients connected", &m.TotalClients)

	m.labels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classmon_behavior_frames_total",
			Help: "Classified frames per behavior label",
		},
		[]string{"label"},
	)
	m.registry.MustRegister(m.labels)
	for _, l := range behavior.Labels() {
		m.labels.WithLabelValues(string(l))
	}

	m.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classmon_notifications_total",
			Help: "Notification attempts per channel and result",
		},
		[]string{"channel", "result"},
	)
	m.registry.MustRegister(m.notifications)
}

// ObserveLabel counts one classified frame.
func (m *Metrics) ObserveLabel(label behavior.Label) {
	m.FramesClassified.Add(1)
	m.labels.WithLabelValues(string(label)).Inc()
}

// ObserveNotification counts one delivery attempt on channel.
func (m *Metrics) ObserveNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// UpdateFrameLatency updates the capture-to-classified latency
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdatePerceptionLatency updates the sidecar round trip latency
func (m *Metrics) UpdatePerceptionLatency(duration time.Duration) {
	m.PerceptionLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateQueueUsage updates the notification queue usage percentage
func (m *Metrics) UpdateQueueUsage(used, capacity int) {
	if capacity > 0 {
		m.NotifyQueueUsage.Store(uint64(used * 100 / capacity))
	}
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
