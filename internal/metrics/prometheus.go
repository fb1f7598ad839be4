package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the playout audio service
type Metrics struct {
	// Chunk ingest metrics
	ChunksReceived prometheus.Counter
	ChunksBuffered prometheus.Counter
	ChunksDirect   prometheus.Counter

	// Playback metrics
	FramesPlayed  prometheus.Counter
	FramesDropped prometheus.Counter
	Underruns     prometheus.Counter
	Overruns      prometheus.Counter
	BufferLevel   prometheus.Histogram

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram
	ModeTransitions   prometheus.Counter

	// WebSocket metrics
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ActiveConnections   prometheus.Gauge
	MessageErrors       prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Chunk ingest metrics
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_chunks_received_total",
			Help: "Total number of audio chunks received",
		}),
		ChunksBuffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_chunks_buffered_total",
			Help: "Total number of chunks routed through the playout buffer",
		}),
		ChunksDirect: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_chunks_direct_total",
			Help: "Total number of chunks played directly without buffering",
		}),

		// Playback metrics
		FramesPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_frames_played_total",
			Help: "Total number of frames dispatched to playback sinks",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_frames_dropped_total",
			Help: "Total number of frames dropped on buffer overruns",
		}),
		Underruns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_buffer_underruns_total",
			Help: "Total number of buffer underrun events",
		}),
		Overruns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_buffer_overruns_total",
			Help: "Total number of buffer overrun events",
		}),
		BufferLevel: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "playout_buffer_level_ms",
			Help:    "Observed playback buffer depth in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "playout_active_sessions",
			Help: "Current number of active stream sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "playout_session_duration_seconds",
			Help:    "Duration of stream sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		ModeTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_mode_transitions_total",
			Help: "Total number of buffered/direct playback mode transitions",
		}),

		// WebSocket metrics
		ConnectionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_ws_connections_accepted_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_ws_connections_rejected_total",
			Help: "Total number of WebSocket connections rejected",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "playout_ws_active_connections",
			Help: "Current number of open WebSocket connections",
		}),
		MessageErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "playout_ws_message_errors_total",
			Help: "Total number of malformed WebSocket messages",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playout_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkReceived increments the chunks received counter
func (m *Metrics) RecordChunkReceived() {
	m.ChunksReceived.Inc()
}

// RecordChunkRouted records which path a chunk took
func (m *Metrics) RecordChunkRouted(buffered bool) {
	if buffered {
		m.ChunksBuffered.Inc()
	} else {
		m.ChunksDirect.Inc()
	}
}

// RecordPlayback accumulates per-session playback counters observed at
// session teardown
func (m *Metrics) RecordPlayback(played, dropped uint64) {
	m.FramesPlayed.Add(float64(played))
	m.FramesDropped.Add(float64(dropped))
}

// RecordBufferEvents accumulates underrun and overrun counts
func (m *Metrics) RecordBufferEvents(underruns, overruns uint64) {
	m.Underruns.Add(float64(underruns))
	m.Overruns.Add(float64(overruns))
}

// ObserveBufferLevel records an observed buffer depth
func (m *Metrics) ObserveBufferLevel(levelMs float64) {
	m.BufferLevel.Observe(levelMs)
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordModeTransitions accumulates a session's mode transition count
func (m *Metrics) RecordModeTransitions(count uint64) {
	m.ModeTransitions.Add(float64(count))
}

// RecordConnectionAccepted increments the accepted connections counter
func (m *Metrics) RecordConnectionAccepted() {
	m.ConnectionsAccepted.Inc()
	m.ActiveConnections.Inc()
}

// RecordConnectionRejected increments the rejected connections counter
func (m *Metrics) RecordConnectionRejected() {
	m.ConnectionsRejected.Inc()
}

// RecordConnectionClosed decrements the active connections gauge
func (m *Metrics) RecordConnectionClosed() {
	m.ActiveConnections.Dec()
}

// RecordMessageError increments the malformed message counter
func (m *Metrics) RecordMessageError() {
	m.MessageErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
