// Package metrics provides transport metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransportMetrics contains Prometheus metrics for the shared-memory
// transport, covering both the engine and client sides. A process only
// populates the series for its own role.
type TransportMetrics struct {
	registry *prometheus.Registry

	// Engine side
	commandsReceivedTotal  *prometheus.CounterVec
	commandsMalformedTotal prometheus.Counter
	blocksPushedTotal      prometheus.Counter
	backendReconfigsTotal  *prometheus.CounterVec
	mediaLoadsTotal        *prometheus.CounterVec
	pumpIterationsTotal    prometheus.Counter
	watchdogExpiredTotal   prometheus.Counter

	// Client side
	commandsSentTotal     *prometheus.CounterVec
	connectAttemptsTotal  *prometheus.CounterVec
	engineLaunchesTotal   *prometheus.CounterVec
	connected             prometheus.Gauge
	renderCallbacksTotal  prometheus.Counter
	renderDurationSeconds prometheus.Histogram

	// Shared
	ringFillFrames prometheus.Gauge
	ringUnderruns  prometheus.Gauge
	ringOverruns   prometheus.Gauge
	engineSession  *prometheus.GaugeVec
}

// NewTransportMetrics creates and registers new transport metrics
func NewTransportMetrics(registry *prometheus.Registry) (*TransportMetrics, error) {
	m := &TransportMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *TransportMetrics) initMetrics() {
	m.commandsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckbridge_engine_commands_received_total",
			Help: "Total number of commands dequeued by the engine",
		},
		[]string{"kind"},
	)
	m.commandsMalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deckbridge_engine_commands_malformed_total",
		Help: "Total number of command payloads that could not be decoded",
	})
	m.blocksPushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deckbridge_engine_blocks_pushed_total",
		Help: "Total number of audio blocks written to the ring",
	})
	m.backendReconfigsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckbridge_engine_backend_reconfigures_total",
			Help: "Total number of media backend output format changes",
		},
		[]string{"status"}, // success, error
	)
	m.mediaLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckbridge_engine_media_loads_total",
			Help: "Total number of media load attempts",
		},
		[]string{"status"}, // success, error
	)
	m.pumpIterationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deckbridge_engine_pump_iterations_total",
		Help: "Total number of pump loop iterations",
	})
	m.watchdogExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deckbridge_engine_watchdog_expired_total",
		Help: "Total number of heartbeat timeouts",
	})

	m.commandsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckbridge_client_commands_sent_total",
			Help: "Total number of commands enqueued by the client",
		},
		[]string{"kind", "status"}, // status: ok, queue_full, disconnected
	)
	m.connectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckbridge_client_connect_attempts_total",
			Help: "Total number of attempts to attach to the shared region",
		},
		[]string{"result"}, // connected, absent, mismatch, error
	)
	m.engineLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deckbridge_client_engine_launches_total",
			Help: "Total number of engine process launches",
		},
		[]string{"status"},
	)
	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deckbridge_client_connected",
		Help: "1 while the client is attached to a running engine",
	})
	m.renderCallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deckbridge_client_render_callbacks_total",
		Help: "Total number of host audio callbacks served",
	})
	m.renderDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deckbridge_client_render_duration_seconds",
		Help:    "Time spent in the host audio callback",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10µs to ~20ms
	})

	m.ringFillFrames = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deckbridge_ring_fill_frames",
		Help: "Frames currently buffered in the audio ring",
	})
	m.ringUnderruns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deckbridge_ring_underruns",
		Help: "Consumer reads that found too few frames",
	})
	m.ringOverruns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deckbridge_ring_overruns",
		Help: "Producer writes that overwrote unread audio",
	})
	m.engineSession = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deckbridge_engine_session_info",
			Help: "Engine session identifier, always 1",
		},
		[]string{"session_id"},
	)
}

// RecordCommandReceived counts a dequeued command by kind.
func (m *TransportMetrics) RecordCommandReceived(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.commandsReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordMalformedCommand counts an undecodable payload.
func (m *TransportMetrics) RecordMalformedCommand() {
	m.commandsMalformedTotal.Inc()
}

// RecordBlockPushed counts one block written to the ring.
func (m *TransportMetrics) RecordBlockPushed() {
	m.blocksPushedTotal.Inc()
}

// RecordBackendReconfigure counts an output format change.
func (m *TransportMetrics) RecordBackendReconfigure(err error) {
	m.backendReconfigsTotal.WithLabelValues(statusOf(err == nil)).Inc()
}

// RecordMediaLoad counts a load attempt.
func (m *TransportMetrics) RecordMediaLoad(ok bool) {
	m.mediaLoadsTotal.WithLabelValues(statusOf(ok)).Inc()
}

// RecordPumpIteration counts one pump loop iteration.
func (m *TransportMetrics) RecordPumpIteration() {
	m.pumpIterationsTotal.Inc()
}

// RecordWatchdogExpired counts a heartbeat timeout.
func (m *TransportMetrics) RecordWatchdogExpired() {
	m.watchdogExpiredTotal.Inc()
}

// RecordCommandSent counts an enqueue attempt. status is one of
// CommandStatusOK, CommandStatusQueueFull or CommandStatusDisconnected.
func (m *TransportMetrics) RecordCommandSent(kind, status string) {
	m.commandsSentTotal.WithLabelValues(kind, status).Inc()
}

// RecordConnectAttempt counts an attach attempt by result.
func (m *TransportMetrics) RecordConnectAttempt(result string) {
	m.connectAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordEngineLaunch counts an engine process launch.
func (m *TransportMetrics) RecordEngineLaunch(err error) {
	m.engineLaunchesTotal.WithLabelValues(statusOf(err == nil)).Inc()
}

// SetConnected records the client connection state.
func (m *TransportMetrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// ObserveRender records one host callback.
func (m *TransportMetrics) ObserveRender(seconds float64) {
	m.renderCallbacksTotal.Inc()
	m.renderDurationSeconds.Observe(seconds)
}

// SetRingStats mirrors the ring counters.
func (m *TransportMetrics) SetRingStats(fill int, underruns, overruns uint64) {
	m.ringFillFrames.Set(float64(fill))
	m.ringUnderruns.Set(float64(underruns))
	m.ringOverruns.Set(float64(overruns))
}

// SetEngineSession publishes the engine session identifier.
func (m *TransportMetrics) SetEngineSession(id string) {
	m.engineSession.Reset()
	m.engineSession.WithLabelValues(id).Set(1)
}

func statusOf(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusError
}

// Describe implements the Collector interface
func (m *TransportMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.commandsReceivedTotal.Describe(ch)
	m.commandsMalformedTotal.Describe(ch)
	m.blocksPushedTotal.Describe(ch)
	m.backendReconfigsTotal.Describe(ch)
	m.mediaLoadsTotal.Describe(ch)
	m.pumpIterationsTotal.Describe(ch)
	m.watchdogExpiredTotal.Describe(ch)
	m.commandsSentTotal.Describe(ch)
	m.connectAttemptsTotal.Describe(ch)
	m.engineLaunchesTotal.Describe(ch)
	m.connected.Describe(ch)
	m.renderCallbacksTotal.Describe(ch)
	m.renderDurationSeconds.Describe(ch)
	m.ringFillFrames.Describe(ch)
	m.ringUnderruns.Describe(ch)
	m.ringOverruns.Describe(ch)
	m.engineSession.Describe(ch)
}

// Collect implements the Collector interface
func (m *TransportMetrics) Collect(ch chan<- prometheus.Metric) {
	m.commandsReceivedTotal.Collect(ch)
	m.commandsMalformedTotal.Collect(ch)
	m.blocksPushedTotal.Collect(ch)
	m.backendReconfigsTotal.Collect(ch)
	m.mediaLoadsTotal.Collect(ch)
	m.pumpIterationsTotal.Collect(ch)
	m.watchdogExpiredTotal.Collect(ch)
	m.commandsSentTotal.Collect(ch)
	m.connectAttemptsTotal.Collect(ch)
	m.engineLaunchesTotal.Collect(ch)
	m.connected.Collect(ch)
	m.renderCallbacksTotal.Collect(ch)
	m.renderDurationSeconds.Collect(ch)
	m.ringFillFrames.Collect(ch)
	m.ringUnderruns.Collect(ch)
	m.ringOverruns.Collect(ch)
	m.engineSession.Collect(ch)
}
