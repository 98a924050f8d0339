// Package metrics exposes Prometheus collectors for the trading engine.
//
//   - engine_orders_total{purpose,side}     market orders placed (open|average|close)
//   - engine_closes_total{reason}           positions closed by reason
//   - engine_signals_total{signal}          entry signals evaluated
//   - engine_exchange_retries_total{reason} REST retries (rate_limit|server_error|network)
//   - engine_stream_reconnects_total        trade stream reconnect attempts
//   - engine_active_symbols{bot_id}         symbols claimed per bot
//   - engine_running_bots                   bots with a live control loop
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Market orders placed",
		},
		[]string{"purpose", "side"},
	)

	Closes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_closes_total",
			Help: "Positions closed by reason",
		},
		[]string{"reason"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Entry signals evaluated",
		},
		[]string{"signal"},
	)

	ExchangeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_exchange_retries_total",
			Help: "Exchange REST retries by reason",
		},
		[]string{"reason"},
	)

	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_stream_reconnects_total",
			Help: "Trade stream reconnect attempts",
		},
	)

	ActiveSymbols = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_active_symbols",
			Help: "Symbols claimed per bot",
		},
		[]string{"bot_id"},
	)

	RunningBots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_running_bots",
			Help: "Bots with a live control loop",
		},
	)
)

func init() {
	prometheus.MustRegister(Orders, Closes, Signals, ExchangeRetries, StreamReconnects, ActiveSymbols, RunningBots)
}

// SignalLabel maps an empty signal to "none"
func SignalLabel(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
