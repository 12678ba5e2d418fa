// Package metrics exposes the counters and histograms an operator
// watches to see whether the pipeline is keeping up: queue depth and age, handler latency, the
// dead-letter rate, and circuit-breaker state. Grounded on the
// package-level prometheus.MustRegister idiom shown across the
// example pack (e.g. patrickpichler-kvisor/metrics).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trailcam_queue_depth",
		Help: "Number of items currently reservable or in flight on a queue.",
	}, []string{"queue"})

	QueueOldestAgeSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trailcam_queue_oldest_age_seconds",
		Help: "Age of the oldest enqueued item on a queue, in seconds.",
	}, []string{"queue"})

	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trailcam_handler_duration_seconds",
		Help:    "Wall-clock time spent handling one queue item.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"queue", "outcome"})

	DeadLetterTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailcam_dead_letter_total",
		Help: "Count of items moved to the dead-letter table.",
	}, []string{"queue"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trailcam_circuit_breaker_state",
		Help: "Current gobreaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"breaker"})

	ReIDDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailcam_reid_decisions_total",
		Help: "Count of Re-ID decisions by outcome.",
	}, []string{"decision"})
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueOldestAgeSeconds,
		HandlerDuration,
		DeadLetterTotal,
		CircuitBreakerState,
		ReIDDecisionsTotal,
	)
}

// ObserveHandlerDuration records how long one handler invocation took.
func ObserveHandlerDuration(queueName, outcome string, d time.Duration) {
	HandlerDuration.WithLabelValues(queueName, outcome).Observe(d.Seconds())
}

// IncDeadLetter records one item moving to the dead-letter table.
func IncDeadLetter(queueName string) {
	DeadLetterTotal.WithLabelValues(queueName).Inc()
}

// SetQueueDepth updates the gauge for queueName's current depth.
func SetQueueDepth(queueName string, depth int) {
	QueueDepth.WithLabelValues(queueName).Set(float64(depth))
}

// OnBreakerStateChange is a gobreaker.Settings.OnStateChange callback
// that mirrors breaker transitions into CircuitBreakerState.
func OnBreakerStateChange(name string, _, to gobreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

// IncReIDDecision records one Re-ID outcome (matched, new_profile,
// burst_inherited).
func IncReIDDecision(decision string) {
	ReIDDecisionsTotal.WithLabelValues(decision).Inc()
}
