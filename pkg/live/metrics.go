package live

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the voice pipeline. All methods are
// nil-safe so instrumentation stays optional.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	AudioBytesTotal *prometheus.CounterVec
	DroppedChunks   prometheus.Counter
	ToolCallsTotal  *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicelink"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live sessions currently active",
	})
	sessionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of sessions started",
	})
	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM bytes moved through the channel",
		},
		[]string{"direction"},
	)
	droppedChunks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_chunks_total",
		Help:      "Inbound audio chunks dropped due to decode failures",
	})
	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched, by tool name",
		},
		[]string{"tool"},
	)

	registry.MustRegister(sessionsActive, sessionsTotal, audioBytesTotal, droppedChunks, toolCallsTotal)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		AudioBytesTotal: audioBytesTotal,
		DroppedChunks:   droppedChunks,
		ToolCallsTotal:  toolCallsTotal,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) audioBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) chunkDropped() {
	if m == nil {
		return
	}
	m.DroppedChunks.Inc()
}

func (m *Metrics) toolCall(name string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(name).Inc()
}
