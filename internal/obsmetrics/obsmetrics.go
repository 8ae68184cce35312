// Package obsmetrics exports Prometheus gauges mirroring events.Stats and
// backtest.Result, for host-process observability only; nothing in the
// core replay path reads these back.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantcore/backtest/internal/backtest"
	"github.com/quantcore/backtest/internal/events"
)

// Collector owns a private prometheus.Registry so multiple Collectors
// (e.g. one per test) never collide on the global default registry.
type Collector struct {
	registry *prometheus.Registry

	busEvents   prometheus.Gauge
	busErrors   prometheus.Gauge
	busDropped  prometheus.Gauge
	busHandlers *prometheus.GaugeVec
	busRunning  prometheus.Gauge

	btFinalValue   prometheus.Gauge
	btTotalReturn  prometheus.Gauge
	btSharpeRatio  prometheus.Gauge
	btMaxDrawdown  prometheus.Gauge
	btWinRate      prometheus.Gauge
	btTradeCount   prometheus.Gauge
}

// New builds a Collector and registers every metric on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		busEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_bus_events_total",
			Help: "Cumulative events dispatched by the event bus since it last started.",
		}),
		busErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_bus_errors_total",
			Help: "Cumulative handler/middleware errors observed by the event bus since it last started.",
		}),
		busDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_bus_dropped_total",
			Help: "Cumulative events dropped because the bus was not running, since it last started.",
		}),
		busHandlers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_bus_handlers",
			Help: "Number of registered handlers per event type.",
		}, []string{"event_type"}),
		busRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_bus_running",
			Help: "1 if the event bus is running, 0 otherwise.",
		}),

		btFinalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_final_value",
			Help: "Portfolio value at the end of the most recent backtest run.",
		}),
		btTotalReturn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_total_return",
			Help: "Total return of the most recent backtest run.",
		}),
		btSharpeRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_sharpe_ratio",
			Help: "Sharpe ratio of the most recent backtest run.",
		}),
		btMaxDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_max_drawdown",
			Help: "Maximum drawdown of the most recent backtest run.",
		}),
		btWinRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_win_rate",
			Help: "Win rate over closing trades of the most recent backtest run.",
		}),
		btTradeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_trade_count",
			Help: "Number of trades executed in the most recent backtest run.",
		}),
	}

	c.registry.MustRegister(
		c.busEvents, c.busErrors, c.busDropped, c.busHandlers, c.busRunning,
		c.btFinalValue, c.btTotalReturn, c.btSharpeRatio, c.btMaxDrawdown, c.btWinRate, c.btTradeCount,
	)
	return c
}

// ObserveBus overwrites the bus-related gauges with a fresh events.Stats
// snapshot. Stats already reports cumulative totals since the bus last
// started, so these are gauges rather than monotonic counters: a restart
// legitimately resets them downward.
func (c *Collector) ObserveBus(stats events.Stats) {
	c.busEvents.Set(float64(stats.EventCount))
	c.busErrors.Set(float64(stats.ErrorCount))
	c.busDropped.Set(float64(stats.DroppedCount))

	runningValue := 0.0
	if stats.Running {
		runningValue = 1.0
	}
	c.busRunning.Set(runningValue)

	for eventType, count := range stats.Handlers {
		c.busHandlers.WithLabelValues(string(eventType)).Set(float64(count))
	}
}

// ObserveResult overwrites the backtest-result gauges with the statistics
// from a finished run.
func (c *Collector) ObserveResult(result backtest.Result) {
	c.btFinalValue.Set(result.FinalValue)
	c.btTotalReturn.Set(result.TotalReturn)
	c.btSharpeRatio.Set(result.SharpeRatio)
	c.btMaxDrawdown.Set(result.MaxDrawdown)
	c.btWinRate.Set(result.WinRate)
	c.btTradeCount.Set(float64(result.TradeCount))
}

// Handler returns the HTTP handler that exposes every registered metric in
// the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
