package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/internal/order"
)

// tradingDaysPerYear is the annualization factor for the Sharpe ratio.
const tradingDaysPerYear = 252

// computeResult derives Result statistics from the net value series and
// trade ledger a Run produced. The Sharpe ratio uses population variance
// (divide by N, not N-1).
func computeResult(initialCash decimal.Decimal, series []NetValuePoint, trades []Trade) Result {
	initial, _ := initialCash.Float64()

	if len(series) == 0 {
		return Result{
			InitialCash: initial,
			FinalValue:  initial,
			TradeCount:  len(trades),
			Trades:      trades,
		}
	}

	finalValue := series[len(series)-1].Value
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = (finalValue - initial) / initial
	}

	days := 1.0
	first, errFirst := time.Parse("2006-01-02", series[0].Date)
	last, errLast := time.Parse("2006-01-02", series[len(series)-1].Date)
	if errFirst == nil && errLast == nil {
		d := last.Sub(first).Hours() / 24
		if d > 1 {
			days = d
		}
	}
	annualReturn := math.Pow(1+totalReturn, 365/days) - 1

	var dailyReturns []float64
	for i := 1; i < len(series); i++ {
		prev := series[i-1].Value
		if prev <= 0 {
			continue
		}
		dailyReturns = append(dailyReturns, (series[i].Value-prev)/prev)
	}

	sharpe := 0.0
	if len(dailyReturns) > 0 {
		var sum float64
		for _, r := range dailyReturns {
			sum += r
		}
		mean := sum / float64(len(dailyReturns))

		var sq float64
		for _, r := range dailyReturns {
			sq += (r - mean) * (r - mean)
		}
		variance := sq / float64(len(dailyReturns))
		std := math.Sqrt(variance)
		if std > 0 {
			sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
		}
	}

	maxDrawdown := 0.0
	peak := series[0].Value
	for _, p := range series {
		if p.Value > peak {
			peak = p.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Value) / peak
		}
		if dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	sellTrades := 0
	wins := 0
	for _, t := range trades {
		if t.Side != order.Sell {
			continue
		}
		sellTrades++
		if t.PnL.IsPositive() {
			wins++
		}
	}
	winRate := 0.0
	if sellTrades > 0 {
		winRate = float64(wins) / float64(sellTrades)
	}

	return Result{
		InitialCash:    initial,
		FinalValue:     finalValue,
		TotalReturn:    totalReturn,
		AnnualReturn:   annualReturn,
		SharpeRatio:    sharpe,
		MaxDrawdown:    maxDrawdown,
		WinRate:        winRate,
		TradeCount:     len(trades),
		NetValueSeries: series,
		Trades:         trades,
	}
}
