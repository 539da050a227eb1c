package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors for recording sessions.
type Metrics struct {
	registry *prometheus.Registry

	// Session lifecycle
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionErrors    *prometheus.CounterVec
	FinalizeDuration prometheus.Histogram
	FinalizeResults  *prometheus.CounterVec

	// Capture cadences
	SegmentsBuffered prometheus.Counter
	BytesBuffered    prometheus.Counter
	InterimRequests  *prometheus.CounterVec
	InterimDropped   prometheus.Counter

	// Transport
	StreamFramesSent   prometheus.Counter
	TranscriptMessages *prometheus.CounterVec

	// Reference server
	HTTPRequests *prometheus.CounterVec
}

// New registers all collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_active_sessions",
			Help: "Number of recording sessions currently capturing audio",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_session_errors_total",
			Help: "Session errors by error code",
		}, []string{"code"}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_finalize_duration_seconds",
			Help:    "Time spent uploading and finalizing a recording",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		FinalizeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_finalize_total",
			Help: "Finalize attempts by result (ok, fallback)",
		}, []string{"result"}),

		SegmentsBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_segments_buffered_total",
			Help: "Total number of 1s audio segments buffered locally",
		}),
		BytesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_audio_bytes_buffered_total",
			Help: "Total PCM bytes buffered locally",
		}),
		InterimRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_interim_requests_total",
			Help: "Interim transcription requests by result (ok, error)",
		}, []string{"result"}),
		InterimDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_interim_dropped_total",
			Help: "Interim chunks dropped because the consumer was busy",
		}),

		StreamFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_stream_frames_sent_total",
			Help: "Binary audio frames written to the streaming socket",
		}),
		TranscriptMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_transcript_messages_total",
			Help: "Transcript fragments received by source",
		}, []string{"source"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_devserver_http_requests_total",
			Help: "Reference server requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
