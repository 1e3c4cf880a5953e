// Package callstats exposes per-call and per-arbiter-source Prometheus
// counters/gauges for the call package, the way the teacher's stats package
// wraps client_golang for the rest of the cluster.
package callstats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks call-core Prometheus metrics.
//
// All metrics use the callcore_ prefix. A nil *Metrics is a valid no-op
// collector so call-package code can record unconditionally without a
// nil-channel config check at every call site.
type Metrics struct {
	// BatchesStarted counts batches submitted to the transport (no labels).
	BatchesStarted prometheus.Counter

	// BatchesCompleted counts batches whose BatchControl reached zero
	// remaining steps, by final outcome ("ok", "error").
	BatchesCompleted *prometheus.CounterVec

	// TranslateRejections counts Translate() calls that failed validation,
	// by the resulting StatusCode name.
	TranslateRejections *prometheus.CounterVec

	// ArbiterWrites counts StatusArbiter.Record/RecordStatus calls, by
	// source.
	ArbiterWrites *prometheus.CounterVec

	// Cancellations counts CancelWithError/CancelWithStatus calls, by
	// source.
	Cancellations *prometheus.CounterVec

	// CompressionUsed counts messages compressed or decompressed, by
	// composite algorithm and direction ("send", "recv").
	CompressionUsed *prometheus.CounterVec

	// ActiveCalls tracks the current number of live Call objects (between
	// Create and the internal refcount reaching zero).
	ActiveCalls prometheus.Gauge

	// CombinerQueueDepth holds the number of queued-but-not-yet-dispatched
	// items most recently reported by any one combiner sharing this Metrics
	// instance. Each report overwrites the value; depths of different
	// calls' combiners are not summed.
	CombinerQueueDepth prometheus.Gauge
}

// NewMetrics creates call-core metrics with the callcore_ prefix and
// registers them with reg. Panics if registration fails (expected during
// initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callcore_batches_started_total",
				Help: "Total batches submitted to the transport filter stack.",
			},
		),
		BatchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_batches_completed_total",
				Help: "Total batches whose completion was reported, by outcome.",
			},
			[]string{"outcome"}, // "ok", "error"
		),
		TranslateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_translate_rejections_total",
				Help: "Total Translate() calls that failed validation, by reason.",
			},
			[]string{"reason"}, // StatusCode name
		),
		ArbiterWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_arbiter_writes_total",
				Help: "Total status writes recorded onto the arbiter, by source.",
			},
			[]string{"source"},
		),
		Cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_cancellations_total",
				Help: "Total call cancellations, by originating source.",
			},
			[]string{"source"},
		),
		CompressionUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_compression_messages_total",
				Help: "Total messages compressed or decompressed, by algorithm and direction.",
			},
			[]string{"algorithm", "direction"}, // direction: "send", "recv"
		),
		ActiveCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcore_active_calls",
				Help: "Current number of live Call objects.",
			},
		),
		CombinerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcore_combiner_queue_depth",
				Help: "Current number of queued-but-undispatched combiner items.",
			},
		),
	}

	reg.MustRegister(
		m.BatchesStarted,
		m.BatchesCompleted,
		m.TranslateRejections,
		m.ArbiterWrites,
		m.Cancellations,
		m.CompressionUsed,
		m.ActiveCalls,
		m.CombinerQueueDepth,
	)

	return m
}

// RecordBatchStarted records one batch submitted to the transport.
func (m *Metrics) RecordBatchStarted() {
	if m == nil {
		return
	}
	m.BatchesStarted.Inc()
}

// RecordBatchCompleted records one batch completion, ok indicating whether
// the consolidated error was nil.
func (m *Metrics) RecordBatchCompleted(ok bool) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.BatchesCompleted.WithLabelValues(outcome).Inc()
}

// RecordTranslateRejection records a Translate() validation failure.
func (m *Metrics) RecordTranslateRejection(reason string) {
	if m == nil {
		return
	}
	m.TranslateRejections.WithLabelValues(reason).Inc()
}

// RecordArbiterWrite records a status write onto the arbiter.
func (m *Metrics) RecordArbiterWrite(source string) {
	if m == nil {
		return
	}
	m.ArbiterWrites.WithLabelValues(source).Inc()
}

// RecordCancellation records a call cancellation originating from source.
func (m *Metrics) RecordCancellation(source string) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(source).Inc()
}

// RecordCompression records one compressed/decompressed message.
func (m *Metrics) RecordCompression(algorithm, direction string) {
	if m == nil {
		return
	}
	m.CompressionUsed.WithLabelValues(algorithm, direction).Inc()
}

// IncActiveCalls and DecActiveCalls track live Call objects.
func (m *Metrics) IncActiveCalls() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

func (m *Metrics) DecActiveCalls() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}

// SetCombinerQueueDepth updates the combiner queue depth gauge.
func (m *Metrics) SetCombinerQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.CombinerQueueDepth.Set(float64(depth))
}

// NullMetrics returns nil, which acts as a no-op metrics collector. All
// Metrics methods handle a nil receiver gracefully.
func NullMetrics() *Metrics {
	return nil
}
