package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the service.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted *prometheus.CounterVec
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram
	BytesIngested   prometheus.Counter

	// Recognition metrics
	WindowsDispatched   prometheus.Counter
	WindowsSuppressed   prometheus.Counter
	RecognitionFailures prometheus.Counter
	RecognitionDuration prometheus.Histogram
	DeltasEmitted       prometheus.Counter

	// Decode pipeline metrics
	DecoderFailures prometheus.Counter

	// One-shot API metrics
	OneshotRequests *prometheus.CounterVec
	OneshotDuration prometheus.Histogram

	// Transcript event metrics
	EventsPublished      prometheus.Counter
	EventPublishFailures prometheus.Counter
}

// New registers the service metrics on reg. Pass a fresh registry in
// tests to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stt_active_sessions",
			Help: "Current number of open streaming sessions",
		}),
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_sessions_started_total",
			Help: "Total number of streaming sessions started",
		}, []string{"transport"}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_closed_total",
			Help: "Total number of streaming sessions closed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_session_duration_seconds",
			Help:    "Duration of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		BytesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_audio_bytes_ingested_total",
			Help: "Total audio payload bytes received across sessions",
		}),

		WindowsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_windows_dispatched_total",
			Help: "Total recognition windows sent to the engine",
		}),
		WindowsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_windows_suppressed_total",
			Help: "Total recognition windows suppressed by the silence gate",
		}),
		RecognitionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_recognition_failures_total",
			Help: "Total failed recognition invocations",
		}),
		RecognitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_recognition_duration_seconds",
			Help:    "Latency of recognition invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		DeltasEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_deltas_emitted_total",
			Help: "Total transcript delta messages sent to clients",
		}),

		DecoderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_decoder_failures_total",
			Help: "Total decoder subprocesses that exited abnormally",
		}),

		OneshotRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_oneshot_requests_total",
			Help: "Total one-shot transcription requests by outcome",
		}, []string{"outcome"}),
		OneshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_oneshot_duration_seconds",
			Help:    "End-to-end latency of one-shot transcriptions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),

		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcript_events_published_total",
			Help: "Total transcript events delivered to sinks",
		}),
		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcript_event_failures_total",
			Help: "Total transcript events that failed to publish",
		}),
	}
}
