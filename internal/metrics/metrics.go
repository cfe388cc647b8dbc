// Package metrics exposes the engine's operational counters and gauges on
// a dedicated prometheus registry, namespaced "trading_engine". Metrics
// cover the pipeline stages the core decision path itself does not expose:
// decision latency, veto outcomes, order submission, regime transitions,
// throttled bar-closes, and status-machine transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for engine metrics, kept
// separate from the default global registry so the HTTP surface controls
// exactly what it exposes.
var Registry = prometheus.NewRegistry()

var (
	// DecisionLatency tracks the bar-close-to-decision pipeline duration.
	DecisionLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trading_engine",
			Subsystem: "orchestrator",
			Name:      "decision_latency_seconds",
			Help:      "Time from bar-close event to pipeline decision completion",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instrument"},
	)

	// VetoRejections counts rejected proposals per veto stage.
	VetoRejections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_engine",
			Subsystem: "veto",
			Name:      "rejections_total",
			Help:      "Number of proposals rejected, by veto stage",
		},
		[]string{"stage"},
	)

	// OrdersSubmitted counts order submissions by instrument and side.
	OrdersSubmitted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_engine",
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Number of orders submitted, by instrument and side",
		},
		[]string{"instrument", "side"},
	)

	// RegimeTransitions counts directional/volatility regime changes.
	RegimeTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_engine",
			Subsystem: "regime",
			Name:      "transitions_total",
			Help:      "Number of regime classification changes, by instrument",
		},
		[]string{"instrument"},
	)

	// BarClosesThrottled counts bar-close events dropped by the
	// per-instrument throttle.
	BarClosesThrottled = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_engine",
			Subsystem: "orchestrator",
			Name:      "bar_closes_throttled_total",
			Help:      "Number of bar-close events dropped by the per-instrument throttle",
		},
		[]string{"instrument"},
	)

	// StatusTransitions counts status-machine transitions.
	StatusTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trading_engine",
			Subsystem: "orchestrator",
			Name:      "status_transitions_total",
			Help:      "Number of status-machine transitions, by from and to state",
		},
		[]string{"from", "to"},
	)

	// FeedLatency mirrors internal/feed's rolling latency window as a gauge
	// so it is scrapeable alongside the rest of the operational surface.
	FeedLatency = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trading_engine",
			Subsystem: "feed",
			Name:      "latency_seconds",
			Help:      "Market-data event latency percentiles",
		},
		[]string{"quantile"},
	)

	// OpenPositions tracks the number of currently open positions.
	OpenPositions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trading_engine",
			Subsystem: "state",
			Name:      "open_positions",
			Help:      "Number of currently open positions",
		},
	)

	// Equity tracks current account equity.
	Equity = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trading_engine",
			Subsystem: "state",
			Name:      "equity",
			Help:      "Current account equity",
		},
	)
)

// Init registers the standard Go runtime/process collectors onto Registry.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// RecordStatusTransition increments the status-transition counter.
func RecordStatusTransition(from, to string) {
	StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordVetoRejection increments the veto-rejection counter for a stage.
func RecordVetoRejection(stage string) {
	VetoRejections.WithLabelValues(stage).Inc()
}

// RecordOrderSubmitted increments the order-submission counter.
func RecordOrderSubmitted(instrument, side string) {
	OrdersSubmitted.WithLabelValues(instrument, side).Inc()
}

// RecordRegimeTransition increments the regime-transition counter.
func RecordRegimeTransition(instrument string) {
	RegimeTransitions.WithLabelValues(instrument).Inc()
}

// RecordBarCloseThrottled increments the throttled-bar-close counter.
func RecordBarCloseThrottled(instrument string) {
	BarClosesThrottled.WithLabelValues(instrument).Inc()
}
