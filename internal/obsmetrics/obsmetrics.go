// Package obsmetrics wires github.com/prometheus/client_golang counters
// and histograms into the engine. Grounded on the teacher's
// metrics/prometheus.go Collector, trimmed of liquidation/ADL/funding-rate
// series (margin and leverage are non-goals of this module) and given
// order/match/scenario/invariant series instead.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every metric the engine emits to.
type Collector struct {
	OrdersPlaced      *prometheus.CounterVec
	OrdersCancelled   *prometheus.CounterVec
	OrdersRejected    *prometheus.CounterVec
	Fills             *prometheus.CounterVec
	ScenarioCount     *prometheus.CounterVec
	InvariantFailures *prometheus.CounterVec
	MatchLatency      *prometheus.HistogramVec
	LockWait          *prometheus.HistogramVec
}

// NewCollector builds and registers a Collector on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictx", Name: "orders_placed_total", Help: "Orders accepted by the engine.",
		}, []string{"market_id"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictx", Name: "orders_cancelled_total", Help: "Orders cancelled.",
		}, []string{"market_id"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictx", Name: "orders_rejected_total", Help: "Orders rejected by PlaceOrder, by error kind.",
		}, []string{"market_id", "reason"}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictx", Name: "fills_total", Help: "Fills produced by the matcher.",
		}, []string{"market_id"}),
		ScenarioCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictx", Name: "clearing_scenario_total", Help: "Fills by clearing scenario.",
		}, []string{"market_id", "scenario"}),
		InvariantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictx", Name: "invariant_failures_total", Help: "Invariant check failures.",
		}, []string{"market_id", "invariant"}),
		MatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "predictx", Name: "match_latency_seconds", Help: "Time spent in the matcher per place_order.",
			Buckets: prometheus.DefBuckets,
		}, []string{"market_id"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "predictx", Name: "market_lock_wait_seconds", Help: "Time spent waiting for a market's mutex.",
			Buckets: prometheus.DefBuckets,
		}, []string{"market_id"}),
	}
	reg.MustRegister(c.OrdersPlaced, c.OrdersCancelled, c.OrdersRejected, c.Fills, c.ScenarioCount, c.InvariantFailures, c.MatchLatency, c.LockWait)
	return c
}

// Noop returns a Collector registered against a fresh, private registry —
// useful for tests and the demo harness that don't expose /metrics.
func Noop() *Collector {
	return NewCollector(prometheus.NewRegistry())
}
