// Package metric exposes Prometheus metrics for the device server and the
// exploration engine.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics
type Metrics struct {
	// Wire / correlation metrics
	ConnectedDevices  prometheus.Gauge
	RequestsSent      *prometheus.CounterVec
	ResponsesMatched  *prometheus.CounterVec
	RequestTimeouts   *prometheus.CounterVec
	LateResponses     prometheus.Counter
	UnknownResponses  prometheus.Counter
	HeartbeatsTotal   prometheus.Counter
	EventsTotal       *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec

	// Exploration metrics
	ExplorationsTotal  *prometheus.CounterVec
	ScreensDiscovered  prometheus.Counter
	ElementsDiscovered prometheus.Counter
	ClicksPerformed    prometheus.Counter
	BackNavigations    prometheus.Counter

	// Knowledge metrics
	KnowledgeSaves  *prometheus.CounterVec
	KnowledgeLoads  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "appscout",
				Subsystem: "devices",
				Name:      "connected",
				Help:      "Number of devices currently connected",
			},
		),

		RequestsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "requests_sent_total",
				Help:      "Total number of requests sent to devices",
			},
			[]string{"action"},
		),

		ResponsesMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "responses_matched_total",
				Help:      "Total number of responses correlated to a pending request",
			},
			[]string{"status"},
		),

		RequestTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "request_timeouts_total",
				Help:      "Total number of requests that hit the correlation deadline",
			},
			[]string{"action"},
		),

		LateResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "late_responses_total",
				Help:      "Responses that arrived after their request already timed out",
			},
		),

		UnknownResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "unknown_responses_total",
				Help:      "Responses whose requestId was never pending on this connection",
			},
		),

		HeartbeatsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "heartbeats_total",
				Help:      "Total number of heartbeats received",
			},
		),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "events_total",
				Help:      "Total number of device-initiated events received",
			},
			[]string{"event"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "frames_dropped_total",
				Help:      "Frames discarded before dispatch",
			},
			[]string{"reason"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "appscout",
				Subsystem: "wire",
				Name:      "request_duration_seconds",
				Help:      "Round-trip time from request send to correlated response",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		ExplorationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "explore",
				Name:      "explorations_total",
				Help:      "Completed exploration runs by outcome",
			},
			[]string{"outcome"},
		),

		ScreensDiscovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "explore",
				Name:      "screens_discovered_total",
				Help:      "Distinct screens discovered across explorations",
			},
		),

		ElementsDiscovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "explore",
				Name:      "elements_discovered_total",
				Help:      "Interactive elements discovered across explorations",
			},
		),

		ClicksPerformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "explore",
				Name:      "clicks_performed_total",
				Help:      "Click actions issued by the exploration engine",
			},
		),

		BackNavigations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "explore",
				Name:      "back_navigations_total",
				Help:      "Back presses issued to return to the target app",
			},
		),

		KnowledgeSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "knowledge",
				Name:      "saves_total",
				Help:      "Knowledge store save operations",
			},
			[]string{"status"},
		),

		KnowledgeLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "appscout",
				Subsystem: "knowledge",
				Name:      "loads_total",
				Help:      "Knowledge store load operations",
			},
			[]string{"status"},
		),
	}
}

// RecordDeviceConnected adjusts the connected device gauge
func (m *Metrics) RecordDeviceConnected(delta int) {
	m.ConnectedDevices.Add(float64(delta))
}

// RecordRequestSent increments the sent request counter for an action
func (m *Metrics) RecordRequestSent(action string) {
	m.RequestsSent.WithLabelValues(action).Inc()
}

// RecordResponseMatched increments the correlated response counter
func (m *Metrics) RecordResponseMatched(status string) {
	m.ResponsesMatched.WithLabelValues(status).Inc()
}

// RecordRequestTimeout increments the timeout counter for an action
func (m *Metrics) RecordRequestTimeout(action string) {
	m.RequestTimeouts.WithLabelValues(action).Inc()
}

// RecordLateResponse counts a response that lost the race with its timeout.
// Together with UnknownResponses this separates "too late" from "never asked".
func (m *Metrics) RecordLateResponse() {
	m.LateResponses.Inc()
}

// RecordUnknownResponse counts a response with no pending entry at all
func (m *Metrics) RecordUnknownResponse() {
	m.UnknownResponses.Inc()
}

// RecordHeartbeat increments the heartbeat counter
func (m *Metrics) RecordHeartbeat() {
	m.HeartbeatsTotal.Inc()
}

// RecordEvent increments the event counter for an event type
func (m *Metrics) RecordEvent(event string) {
	m.EventsTotal.WithLabelValues(event).Inc()
}

// RecordFrameDropped increments the dropped frame counter
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordRequestDuration records request round-trip time
func (m *Metrics) RecordRequestDuration(action string, duration time.Duration) {
	m.RequestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordExploration increments the exploration counter for an outcome
func (m *Metrics) RecordExploration(outcome string) {
	m.ExplorationsTotal.WithLabelValues(outcome).Inc()
}

// RecordScreenDiscovered increments the discovered screen counter
func (m *Metrics) RecordScreenDiscovered() {
	m.ScreensDiscovered.Inc()
}

// RecordElementsDiscovered adds to the discovered element counter
func (m *Metrics) RecordElementsDiscovered(n int) {
	m.ElementsDiscovered.Add(float64(n))
}

// RecordClick increments the click counter
func (m *Metrics) RecordClick() {
	m.ClicksPerformed.Inc()
}

// RecordBackNavigation increments the back press counter
func (m *Metrics) RecordBackNavigation() {
	m.BackNavigations.Inc()
}

// RecordKnowledgeSave increments the knowledge save counter
func (m *Metrics) RecordKnowledgeSave(status string) {
	m.KnowledgeSaves.WithLabelValues(status).Inc()
}

// RecordKnowledgeLoad increments the knowledge load counter
func (m *Metrics) RecordKnowledgeLoad(status string) {
	m.KnowledgeLoads.WithLabelValues(status).Inc()
}
