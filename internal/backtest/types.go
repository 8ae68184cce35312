// Package backtest implements the bar-replay driver: date aggregation, the
// auto-sizing aggregated-bar matcher, a secondary per-bar MARKET/LIMIT
// matcher, commission/slippage application, and result statistics.
package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/internal/order"
	"github.com/quantcore/backtest/internal/strategy"
)

// RawBar is one historical OHLCV record as handed to Driver.Run, prior to
// date coercion and aggregation. Date accepts a time.Time or a string in
// one of "2006-01-02", "2006/01/02", "20060102".
type RawBar struct {
	Symbol string
	Date   any
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	Amount decimal.Decimal
}

// Bar, AggregatedBar, and Signal reuse the strategy package's shapes so a
// Strategy's OnBar signature and the driver's internal bookkeeping agree on
// one type.
type (
	Bar           = strategy.Bar
	AggregatedBar = strategy.AggregatedBar
	Signal        = strategy.Signal
)

// Trade is one executed fill recorded by the replay loop.
type Trade struct {
	Date       string
	Symbol     string
	Side       order.Side
	Quantity   int64
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Commission decimal.Decimal
	PnL        decimal.Decimal
}

// NetValuePoint is one point of the portfolio's net value series.
type NetValuePoint struct {
	Date  string
	Value float64
}

// Result is the statistics and artifacts produced by one backtest run.
// Pure replay statistics are float64; trade and portfolio amounts stay in
// decimal.Decimal.
type Result struct {
	InitialCash    float64
	FinalValue     float64
	TotalReturn    float64
	AnnualReturn   float64
	SharpeRatio    float64
	MaxDrawdown    float64
	WinRate        float64
	TradeCount     int
	NetValueSeries []NetValuePoint
	Trades         []Trade
}
