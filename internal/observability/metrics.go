package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds herald's Prometheus collectors.
//
// All methods are no-ops on a nil receiver.
type Metrics struct {
	// Runs counts finished pipeline runs.
	// Labels: origin (user|heartbeat), outcome (result|suppressed|<error kind>)
	Runs *prometheus.CounterVec

	// RunDuration measures pipeline runs in seconds.
	// Labels: origin
	RunDuration *prometheus.HistogramVec

	// Fragments counts backend text chunks.
	// Labels: disposition (forwarded|swallowed)
	Fragments *prometheus.CounterVec

	// SessionRetries counts retries after an invalid continuity token.
	SessionRetries prometheus.Counter

	// LockWait measures how long runs waited for their chat.
	LockWait prometheus.Histogram

	// HeartbeatTicks counts scheduler ticks.
	// Labels: status (ran|skipped|failed), reason
	HeartbeatTicks *prometheus.CounterVec

	// Messages counts Telegram messages.
	// Labels: direction (inbound|outbound), kind
	Messages *prometheus.CounterVec

	// HistoryDropped counts history entries dropped because the queue was full.
	HistoryDropped prometheus.Counter

	// Errors counts failures by component and type.
	Errors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// registers on the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_runs_total",
				Help: "Pipeline runs by origin and outcome",
			},
			[]string{"origin", "outcome"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_run_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900, 1800},
			},
			[]string{"origin"},
		),

		Fragments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_fragments_total",
				Help: "Backend text chunks by disposition",
			},
			[]string{"disposition"},
		),

		SessionRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "herald_session_retries_total",
				Help: "Runs retried after the backend rejected the continuity token",
			},
		),

		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "herald_chat_lock_wait_seconds",
				Help:    "Time spent waiting for a chat's session lock",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 30, 120, 600},
			},
		),

		HeartbeatTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_heartbeat_ticks_total",
				Help: "Heartbeat ticks by status and reason",
			},
			[]string{"status", "reason"},
		),

		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_telegram_messages_total",
				Help: "Telegram messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),

		HistoryDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "herald_history_dropped_total",
				Help: "History entries dropped because the writer fell behind",
			},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_errors_total",
				Help: "Errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordRun records a finished run.
//
// Example:
//
//	start := time.Now()
//	// ... run pipeline ...
//	metrics.RecordRun("heartbeat", "suppressed", time.Since(start).Seconds())
func (m *Metrics) RecordRun(origin, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(origin, outcome).Inc()
	m.RunDuration.WithLabelValues(origin).Observe(durationSeconds)
}

// FragmentForwarded counts a chunk that became a fragment.
func (m *Metrics) FragmentForwarded() {
	if m == nil {
		return
	}
	m.Fragments.WithLabelValues("forwarded").Inc()
}

// FragmentSwallowed counts a chunk at or below the minimum stream length.
func (m *Metrics) FragmentSwallowed() {
	if m == nil {
		return
	}
	m.Fragments.WithLabelValues("swallowed").Inc()
}

// SessionRetry counts a retry without a continuity token.
func (m *Metrics) SessionRetry() {
	if m == nil {
		return
	}
	m.SessionRetries.Inc()
}

// ObserveLockWait records time spent acquiring a chat lease.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// HeartbeatTick counts a scheduler tick.
func (m *Metrics) HeartbeatTick(status, reason string) {
	if m == nil {
		return
	}
	m.HeartbeatTicks.WithLabelValues(status, reason).Inc()
}

// MessageReceived counts an inbound Telegram message.
func (m *Metrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("inbound", kind).Inc()
}

// MessageSent counts an outbound Telegram message.
func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues("outbound", kind).Inc()
}

// HistoryEntryDropped counts a dropped history entry.
func (m *Metrics) HistoryEntryDropped() {
	if m == nil {
		return
	}
	m.HistoryDropped.Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("telegram", "send_failed")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component, errorType).Inc()
}
