// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vaani_backend"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Call session metrics
	CallsStarted    *prometheus.CounterVec
	CallsActive     prometheus.Gauge
	CallsEnded      *prometheus.CounterVec
	CallDuration    prometheus.Histogram
	CallTransitions *prometheus.CounterVec

	// Signaling metrics
	SignalsRelayed  *prometheus.CounterVec
	SignalsDropped  *prometheus.CounterVec
	WSClientsActive prometheus.Gauge
	WSMessagesTotal *prometheus.CounterVec

	// Translation metrics
	TranslationsTotal   *prometheus.CounterVec
	TranslationFailures *prometheus.CounterVec
	TranslationLatency  prometheus.Histogram
	TTSLatency          prometheus.Histogram

	// Chat metrics
	MessagesSent prometheus.Counter
	ReadReceipts prometheus.Counter
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CallsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of call sessions created",
		}, []string{"kind"}),
		CallsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of currently active call sessions",
		}),
		CallsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of call sessions reaching a terminal state",
		}, []string{"state", "reason"}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of ended call sessions in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		CallTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Total number of call state transitions",
		}, []string{"from", "to"}),

		SignalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_relayed_total",
			Help:      "Total number of signaling envelopes relayed",
		}, []string{"kind"}),
		SignalsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_dropped_total",
			Help:      "Total number of signaling envelopes dropped",
		}, []string{"reason"}),
		WSClientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients_active",
			Help:      "Number of currently connected WebSocket clients",
		}),
		WSMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Total number of WebSocket messages by direction",
		}, []string{"direction"}),

		TranslationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Total number of translation requests processed",
		}, []string{"target_language"}),
		TranslationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_failures_total",
			Help:      "Total number of failed translation requests",
		}, []string{"stage"}),
		TranslationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Translation backend latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		TTSLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_latency_seconds",
			Help:      "Text-to-speech synthesis latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),

		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_sent_total",
			Help:      "Total number of chat messages persisted",
		}),
		ReadReceipts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_read_receipts_total",
			Help:      "Total number of read receipts recorded",
		}),
	}
}

// RecordCallStarted records a new call session.
func (m *Metrics) RecordCallStarted(kind string) {
	m.CallsStarted.WithLabelValues(kind).Inc()
	m.CallsActive.Inc()
}

// RecordCallEnded records a call session reaching a terminal state.
func (m *Metrics) RecordCallEnded(state, reason string, durationSeconds float64) {
	m.CallsActive.Dec()
	m.CallsEnded.WithLabelValues(state, reason).Inc()
	m.CallDuration.Observe(durationSeconds)
}

// RecordTransition records one call state transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.CallTransitions.WithLabelValues(from, to).Inc()
}

// RecordSignalRelayed records a relayed signaling envelope.
func (m *Metrics) RecordSignalRelayed(kind string) {
	m.SignalsRelayed.WithLabelValues(kind).Inc()
}

// RecordSignalDropped records a dropped signaling envelope.
func (m *Metrics) RecordSignalDropped(reason string) {
	m.SignalsDropped.WithLabelValues(reason).Inc()
}

// RecordTranslation records a completed translation request.
func (m *Metrics) RecordTranslation(targetLang string, latencySeconds float64) {
	m.TranslationsTotal.WithLabelValues(targetLang).Inc()
	m.TranslationLatency.Observe(latencySeconds)
}

// RecordTranslationFailure records a failed translation stage.
func (m *Metrics) RecordTranslationFailure(stage string) {
	m.TranslationFailures.WithLabelValues(stage).Inc()
}
