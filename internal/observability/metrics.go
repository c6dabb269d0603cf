package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage names recorded in the rolling window.
const (
	StageRecognitionStart = "recognition_start"
	StageFirstText        = "llm_first_text"
	StageSynthesisChunk   = "synthesis_chunk"
	StageFirstAudio       = "first_audio"
	StageTurnTotal        = "turn_total"
)

// Indicator names counted in the rolling window.
const (
	IndicatorChunkDropped   = "synthesis_chunk_dropped"
	IndicatorDecodeFailed   = "playback_decode_failed"
	IndicatorWorkletDropped = "worklet_block_dropped"
	IndicatorTurnAborted    = "turn_aborted"
)

// Metrics groups all Prometheus instruments used by the service. All methods
// are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry
	window   *stageWindow

	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	SynthesisLatency prometheus.Histogram
	ChunksDropped    *prometheus.CounterVec
	WorkletDrops     prometheus.Counter
	FirstAudioDelay  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		window:   newStageWindow(256),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active practice sessions.",
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
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Speech and language model errors by provider and code.",
		}, []string{"provider", "code"}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_chunk_latency_ms",
			Help:      "Round-trip latency of one synthesis chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 800, 1200, 2000, 4000},
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks skipped by reason.",
		}, []string{"reason"}),
		WorkletDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worklet_messages_dropped_total",
			Help:      "Capture worklet messages dropped because the consumer fell behind.",
		}),
		FirstAudioDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from reply request to first synthesized audio in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2500, 4000},
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("started").Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues("ended_" + reason).Inc()
}

// SessionEvent counts a session lifecycle event that does not change the
// active gauge, such as a socket connecting.
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveSynthesis(d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageSynthesisChunk, float64(d.Milliseconds()))
}

// ChunkDropped records a skipped chunk; reason is "synthesis" or "decode".
func (m *Metrics) ChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
	switch reason {
	case "decode":
		m.window.ObserveIndicator(IndicatorDecodeFailed)
	default:
		m.window.ObserveIndicator(IndicatorChunkDropped)
	}
}

func (m *Metrics) WorkletDropped() {
	if m == nil {
		return
	}
	m.WorkletDrops.Inc()
	m.window.ObserveIndicator(IndicatorWorkletDropped)
}

func (m *Metrics) ObserveFirstAudio(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioDelay.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageFirstAudio, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample for one of the Stage* names.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.window.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.window.ObserveIndicator(name)
}

// StageSnapshot returns rolling latency percentiles for pipeline stages.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
