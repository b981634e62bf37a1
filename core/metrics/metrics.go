// Package metrics provides Prometheus metrics for avatar sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ema_avatar"

// Metrics holds the session metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsActive   prometheus.Gauge
	StateTransitions *prometheus.CounterVec
	StartDuration    prometheus.Histogram

	// Turn metrics
	TurnsCompleted *prometheus.CounterVec
	ChunksPlayed   prometheus.Counter
	ChunksDropped  *prometheus.CounterVec
	ChunkLatency   prometheus.Histogram
	PlaybackErrors prometheus.Counter

	// Interruption metrics
	BargeIns         *prometheus.CounterVec
	EchoSuppressions prometheus.Counter

	// Connection metrics
	ReconnectAttempts  prometheus.Counter
	ReconnectExhausted prometheus.Counter
	ModeSwitches       *prometheus.CounterVec

	// Microphone metrics
	MicFramesSent prometheus.Counter
}

// New creates the metrics and registers them on registerer. A nil registerer
// falls back to the default registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions that reached the active state",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently active or paused",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions by target state",
		}, []string{"to"}),
		StartDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "start_duration_seconds",
			Help:      "Time from start to session confirmation",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		TurnsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns that stopped draining, by outcome",
		}, []string{"outcome"}),
		ChunksPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_played_total",
			Help:      "Audio chunks handed to the output device",
		}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks discarded before playback, by reason",
		}, []string{"reason"}),
		ChunkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_arrival_seconds",
			Help:      "Time between consecutive chunk arrivals of a turn",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		PlaybackErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_errors_total",
			Help:      "Turns that failed to decode or play",
		}),
		BargeIns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Interruptions of avatar speech, by reason",
		}, []string{"reason"}),
		EchoSuppressions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_suppressions_total",
			Help:      "Transcripts discarded as echo",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts",
		}),
		ReconnectExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Times automatic reconnecting gave up",
		}),
		ModeSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_switches_total",
			Help:      "Transport mode switches, by result",
		}, []string{"result"}),
		MicFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mic_frames_sent_total",
			Help:      "Microphone frames sent to the transport",
		}),
	}
}

func (m *Metrics) StateChanged(to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) SessionStarted(startedIn time.Duration) {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
	m.StartDuration.Observe(startedIn.Seconds())
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.TurnsCompleted.WithLabelValues(outcome).Inc()
	if outcome == "playback_error" {
		m.PlaybackErrors.Inc()
	}
}

func (m *Metrics) ChunkPlayed() {
	if m == nil {
		return
	}
	m.ChunksPlayed.Inc()
}

func (m *Metrics) ChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChunkArrived(sincePrevious time.Duration) {
	if m == nil || sincePrevious <= 0 {
		return
	}
	m.ChunkLatency.Observe(sincePrevious.Seconds())
}

func (m *Metrics) BargeIn(reason string) {
	if m == nil {
		return
	}
	m.BargeIns.WithLabelValues(reason).Inc()
}

func (m *Metrics) EchoSuppressed() {
	if m == nil {
		return
	}
	m.EchoSuppressions.Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) ReconnectGaveUp() {
	if m == nil {
		return
	}
	m.ReconnectExhausted.Inc()
}

func (m *Metrics) ModeSwitched(result string) {
	if m == nil {
		return
	}
	m.ModeSwitches.WithLabelValues(result).Inc()
}

func (m *Metrics) MicFrameSent() {
	if m == nil {
		return
	}
	m.MicFramesSent.Inc()
}
