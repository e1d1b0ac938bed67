package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame loop counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesNoFace    atomic.Uint64

	// Error counters
	ReadErrors       atomic.Uint64
	LandmarkErrors   atomic.Uint64
	PhoneErrors      atomic.Uint64
	AlarmErrors      atomic.Uint64
	SinkErrors       atomic.Uint64
	EventsSuppressed atomic.Uint64

	// Sink fan-out
	SinkDelivered atomic.Uint64
	SinkDropped   atomic.Uint64

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // Capture to classification latency in ms
	ProcessLatencyMs atomic.Uint64 // Last frame processing latency in ms

	// Display clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Per-kind counters
	alarms *prometheus.CounterVec
	events *prometheus.CounterVec
	active *prometheus.GaugeVec

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
	// Frame loop
	m.gauge("driver_frames_read_total", "Total frames read from the frame source", &m.FramesRead)
	m.gauge("driver_frames_processed_total", "Total frames classified", &m.FramesProcessed)
	m.gauge("driver_frames_no_face_total", "Total frames without a detected face", &m.FramesNoFace)

	// Errors
	m.gauge("driver_read_errors_total", "Total frame source read errors", &m.ReadErrors)
	m.gauge("driver_landmark_errors_total", "Total landmark extraction errors", &m.LandmarkErrors)
	m.gauge("driver_phone_errors_total", "Total phone detection errors", &m.PhoneErrors)
	m.gauge("driver_alarm_errors_total", "Total alarm playback errors", &m.AlarmErrors)
	m.gauge("driver_sink_errors_total", "Total event sink delivery errors", &m.SinkErrors)
	m.gauge("driver_events_suppressed_total", "Events dropped by the log dedup window", &m.EventsSuppressed)

	// Fan-out
	m.gauge("driver_sink_delivered_total", "Events delivered to sinks", &m.SinkDelivered)
	m.gauge("driver_sink_dropped_total", "Events dropped because a sink queue was full", &m.SinkDropped)

	// Latency
	m.gauge("driver_frame_latency_ms", "Capture to classification latency in milliseconds", &m.FrameLatencyMs)
	m.gauge("driver_process_latency_ms", "Frame processing latency in milliseconds", &m.ProcessLatencyMs)

	// Clients
	m.gauge("driver_active_clients", "Number of connected display clients", &m.ActiveClients)
	m.gauge("driver_total_clients", "Total display clients connected", &m.TotalClients)

	m.alarms = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_alarms_triggered_total",
		Help: "Alarms triggered by alert kind",
	}, []string{"kind"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driver_events_logged_total",
		Help: "Events appended to the log by alert kind",
	}, []string{"kind"})
	m.active = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driver_alert_active",
		Help: "Alert condition currently active (0/1) by kind",
	}, []string{"kind"})
	m.registry.MustRegister(m.alarms, m.events, m.active)

	// Pre-create series so every kind is exported from the start
	for _, kind := range types.AllKinds {
		m.alarms.WithLabelValues(kind.String())
		m.events.WithLabelValues(kind.String())
		m.active.WithLabelValues(kind.String())
	}
}

// AlarmTriggered counts one alarm for kind
func (m *Metrics) AlarmTriggered(kind types.AlertKind) {
	m.alarms.WithLabelValues(kind.String()).Inc()
}

// EventLogged counts one log entry for kind
func (m *Metrics) EventLogged(kind types.AlertKind) {
	m.events.WithLabelValues(kind.String()).Inc()
}

// SetActive publishes the current per-kind detection flags
func (m *Metrics) SetActive(status types.FrameStatus) {
	for _, kind := range types.AllKinds {
		v := 0.0
		if status.Detected(kind) {
			v = 1
		}
		m.active.WithLabelValues(kind.String()).Set(v)
	}
}

// UpdateFrameLatency updates the capture to classification latency
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateProcessLatency updates the processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Registry exposes the private registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
