package dashboard

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus series the status server exposes, grounded
// on the pack's chidi150c-coinbase and poorman-SynapseStrike repos, which
// both register a small counter/gauge set against the default registry
// rather than rolling a bespoke stats struct.
type Metrics struct {
	SignalsReceived  prometheus.Counter
	SignalsRejected  *prometheus.CounterVec
	OrdersPlaced     *prometheus.CounterVec
	PositionsOpen    prometheus.Gauge
	ReconciliationDrift prometheus.Gauge
	GatewayErrors    *prometheus.CounterVec
}

// NewMetrics registers and returns the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowtrader",
			Name:      "signals_received_total",
			Help:      "Unusual-options-flow signals received from the watcher.",
		}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowtrader",
			Name:      "signals_rejected_total",
			Help:      "Signals rejected by on_signal, labeled by reason.",
		}, []string{"reason"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowtrader",
			Name:      "orders_placed_total",
			Help:      "Orders placed, labeled by side and terminal status.",
		}, []string{"side", "status"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowtrader",
			Name:      "positions_open",
			Help:      "Currently open equity positions.",
		}),
		ReconciliationDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowtrader",
			Name:      "reconciliation_drift_symbols",
			Help:      "Symbols found mismatched on the most recent reconciliation pass.",
		}),
		GatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowtrader",
			Name:      "gateway_errors_total",
			Help:      "Gateway call failures, labeled by call.",
		}, []string{"call"}),
	}

	reg.MustRegister(
		m.SignalsReceived,
		m.SignalsRejected,
		m.OrdersPlaced,
		m.PositionsOpen,
		m.ReconciliationDrift,
		m.GatewayErrors,
	)
	return m
}
