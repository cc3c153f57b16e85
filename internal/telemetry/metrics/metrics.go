// Package metrics holds the Prometheus collectors for the trading engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds all engine collectors.
type Registry struct {
	Evaluations      *prometheus.CounterVec
	Trades           *prometheus.CounterVec
	OpenPositions    prometheus.Gauge
	GasPrice         prometheus.Gauge
	RiskScore        prometheus.Histogram
	OpportunityScore prometheus.Histogram
}

// NewRegistry creates the engine collectors.
func NewRegistry() *Registry {
	return &Registry{
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexrun_evaluations_total",
				Help: "Trade evaluations by resulting action",
			},
			[]string{"action"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexrun_trades_total",
				Help: "Submitted trades by side and outcome",
			},
			[]string{"side", "outcome"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dexrun_open_positions",
				Help: "Currently open positions",
			},
		),
		GasPrice: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dexrun_gas_price_wei",
				Help: "Most recent optimal gas price in wei",
			},
		),
		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dexrun_risk_score",
				Help:    "Composite risk scores of evaluated trades",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		OpportunityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dexrun_opportunity_score",
				Help:    "Opportunity scores of evaluated trades",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
	}
}

// Register attaches every collector to the given registerer.
func (r *Registry) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		r.Evaluations,
		r.Trades,
		r.OpenPositions,
		r.GasPrice,
		r.RiskScore,
		r.OpportunityScore,
	)
}
