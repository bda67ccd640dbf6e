// Package observability holds Prometheus instruments and the rolling latency
// window served on /v1/perf/latency.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/barbercall/internal/backend"
)

// Metrics groups all Prometheus instruments used by the service. Each value
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry
	latency  *latencyWindow

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	BackendLatency    *prometheus.HistogramVec
	BackendErrors     *prometheus.CounterVec
	CallTransitions   *prometheus.CounterVec
	CallExchanges     prometheus.Counter
	CallInterruptions prometheus.Counter
	VADSegments       *prometheus.CounterVec
	UtteranceSeconds  prometheus.Histogram
	OutboundResults   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		latency:  newLatencyWindow(256),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active call sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_ms",
			Help:      "Booking backend request latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"op"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Booking backend errors by operation and code.",
		}, []string{"op", "code"}),
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Conversation state transitions by event and target status.",
		}, []string{"event", "to"}),
		CallExchanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_exchanges_total",
			Help:      "Completed caller/assistant exchanges.",
		}),
		CallInterruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_interruptions_total",
			Help:      "Caller barge-ins while the assistant was speaking.",
		}),
		VADSegments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_segments_total",
			Help:      "Detected speech segments by outcome.",
		}, []string{"outcome"}),
		UtteranceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of captured caller utterances.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		OutboundResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound websocket delivery results by type.",
		}, []string{"type", "result"}),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBackend records one backend call and classifies its error, if any.
func (m *Metrics) ObserveBackend(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.BackendLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	if err != nil {
		m.BackendErrors.WithLabelValues(op, backendErrorCode(err)).Inc()
	}
}

func backendErrorCode(err error) string {
	var statusErr *backend.StatusError
	switch {
	case errors.As(err, &statusErr):
		return http.StatusText(statusErr.StatusCode)
	case errors.Is(err, backend.ErrEmptyAudio):
		return "empty_audio"
	default:
		return "transport"
	}
}

func (m *Metrics) ObserveTransition(event, to string) {
	if m == nil {
		return
	}
	m.CallTransitions.WithLabelValues(event, to).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundResults.WithLabelValues(msgType, result).Inc()
}

// ObserveStage feeds the rolling latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveEvent counts a named call event in the rolling window.
func (m *Metrics) ObserveEvent(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveEvent(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.Snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.latency.Reset()
}
