// Package metrics registers and exposes the gateway's Prometheus metrics.
//
// All metrics live in the default registry and are served from the REST
// server's /metrics endpoint. Helpers are nil-safe so callers never need to
// care whether Init has run (tests, partial bootstraps).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "apgw_"

var (
	registerOnce sync.Once

	devicesConnected  prometheus.Gauge
	devicesConnecting prometheus.Gauge

	sessionsStarted prometheus.Counter
	sessionsEvicted prometheus.Counter

	framesReceived     *prometheus.CounterVec
	protocolViolations prometheus.Counter

	commandsSubmitted prometheus.Counter
	commandResults    *prometheus.CounterVec
	commandLatency    prometheus.Histogram

	outstandingCommands prometheus.Gauge
)

// Init registers the gateway metrics with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		devicesConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "devices_connected",
			Help: "Devices with a fully established session",
		})
		devicesConnecting = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "devices_connecting",
			Help: "Sessions started but not yet bound to a device identity",
		})

		sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "sessions_started_total",
			Help: "Total transport sessions accepted",
		})
		sessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "sessions_evicted_total",
			Help: "Total sessions evicted as stale by the sweep",
		})

		framesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frames_received_total",
				Help: "Total inbound frames by type",
			},
			[]string{"type"},
		)
		protocolViolations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "protocol_violations_total",
			Help: "Total frames dropped for violating the device protocol",
		})

		commandsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "commands_submitted_total",
			Help: "Total commands handed to the transport",
		})
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total command outcomes by terminal state",
			},
			[]string{"status"},
		)
		commandLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "command_latency_seconds",
			Help:    "Round-trip latency from submit to device response",
			Buckets: prometheus.DefBuckets,
		})

		outstandingCommands = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "commands_outstanding",
			Help: "Commands awaiting a device response",
		})

		prometheus.MustRegister(
			devicesConnected,
			devicesConnecting,
			sessionsStarted,
			sessionsEvicted,
			framesReceived,
			protocolViolations,
			commandsSubmitted,
			commandResults,
			commandLatency,
			outstandingCommands,
		)
	})
}

// SetDevicesConnected sets the connected device gauge.
func SetDevicesConnected(n int) {
	if devicesConnected != nil {
		devicesConnected.Set(float64(n))
	}
}

// SetDevicesConnecting sets the connecting device gauge.
func SetDevicesConnecting(n int) {
	if devicesConnecting != nil {
		devicesConnecting.Set(float64(n))
	}
}

// IncSessionStarted increments the accepted session counter.
func IncSessionStarted() {
	if sessionsStarted != nil {
		sessionsStarted.Inc()
	}
}

// AddSessionsEvicted increments the stale session counter by count.
func AddSessionsEvicted(count int) {
	if count <= 0 {
		return
	}
	if sessionsEvicted != nil {
		sessionsEvicted.Add(float64(count))
	}
}

// IncFrame increments the inbound frame counter for one frame type.
func IncFrame(frameType string) {
	if frameType == "" {
		frameType = "unknown"
	}
	if framesReceived != nil {
		framesReceived.WithLabelValues(frameType).Inc()
	}
}

// IncProtocolViolation increments the dropped frame counter.
func IncProtocolViolation() {
	if protocolViolations != nil {
		protocolViolations.Inc()
	}
}

// IncCommandSubmitted increments the submitted command counter.
func IncCommandSubmitted() {
	if commandsSubmitted != nil {
		commandsSubmitted.Inc()
	}
}

// IncCommandResult increments the terminal state counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// ObserveCommandLatency records one round-trip latency sample.
func ObserveCommandLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if commandLatency != nil {
		commandLatency.Observe(d.Seconds())
	}
}

// SetOutstandingCommands sets the outstanding command gauge.
func SetOutstandingCommands(n int) {
	if outstandingCommands != nil {
		outstandingCommands.Set(float64(n))
	}
}
