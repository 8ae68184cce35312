package montecarlo_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/backtest"
	"github.com/quantcore/backtest/internal/montecarlo"
	"github.com/quantcore/backtest/internal/order"
)

func winningTrade(pnl, amount float64) backtest.Trade {
	return backtest.Trade{
		Side:   order.Sell,
		Amount: decimal.NewFromFloat(amount),
		PnL:    decimal.NewFromFloat(pnl),
	}
}

func TestRunWithNoTradesReturnsZeroResultWithTrialCount(t *testing.T) {
	sim := montecarlo.New(zap.NewNop(), montecarlo.Config{Trials: 50})
	res := sim.Run(backtest.Result{})

	if res.Trials != 50 {
		t.Fatalf("expected Trials echoed even on empty input, got %d", res.Trials)
	}
	if res.Distribution != nil {
		t.Fatalf("expected nil distribution for empty trade list, got %v", res.Distribution)
	}
}

func TestRunProducesTrialsSortedDistribution(t *testing.T) {
	trades := []backtest.Trade{
		winningTrade(100, 1000),
		winningTrade(-50, 1000),
		winningTrade(200, 1000),
	}

	sim := montecarlo.New(zap.NewNop(), montecarlo.Config{Trials: 200, Seed: 7})
	res := sim.Run(backtest.Result{Trades: trades})

	if res.Trials != 200 {
		t.Fatalf("expected 200 trials, got %d", res.Trials)
	}
	if len(res.Distribution) != 200 {
		t.Fatalf("expected a distribution entry per trial, got %d", len(res.Distribution))
	}
	for i := 1; i < len(res.Distribution); i++ {
		if res.Distribution[i] < res.Distribution[i-1] {
			t.Fatalf("expected distribution sorted ascending, found %v before %v", res.Distribution[i-1], res.Distribution[i])
		}
	}
	if res.P5TerminalEquity > res.P50TerminalEquity || res.P50TerminalEquity > res.P95TerminalEquity {
		t.Fatalf("expected percentiles ordered p5<=p50<=p95, got %v %v %v", res.P5TerminalEquity, res.P50TerminalEquity, res.P95TerminalEquity)
	}
}

func TestRunWithOnlyLossesProducesHighRuinProbability(t *testing.T) {
	trades := []backtest.Trade{
		winningTrade(-900, 1000),
		winningTrade(-900, 1000),
		winningTrade(-900, 1000),
	}

	sim := montecarlo.New(zap.NewNop(), montecarlo.Config{Trials: 100, Seed: 1, RuinThreshold: 0.5})
	res := sim.Run(backtest.Result{Trades: trades})

	if res.ProbabilityRuin != 1 {
		t.Fatalf("expected certain ruin when every trade loses 90%%, got %v", res.ProbabilityRuin)
	}
}

func TestRunSkipsTradesWithZeroAmount(t *testing.T) {
	trades := []backtest.Trade{
		{Side: order.Sell, Amount: decimal.Zero, PnL: decimal.NewFromInt(500)},
	}

	sim := montecarlo.New(zap.NewNop(), montecarlo.Config{Trials: 10})
	res := sim.Run(backtest.Result{Trades: trades})

	for _, eq := range res.Distribution {
		if eq != 1.0 {
			t.Fatalf("expected terminal equity to stay at 1.0 with no usable returns, got %v", eq)
		}
	}
}

func TestBootstrapConfidenceIntervalOrdersLowerBeforeUpper(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := []float64{1, 2, 3, 4, 5, 100}

	mean := func(xs []float64) float64 {
		sum := 0.0
		for _, x := range xs {
			sum += x
		}
		return sum / float64(len(xs))
	}

	lower, upper := montecarlo.BootstrapConfidenceInterval(rng, samples, 500, 5, 95, mean)
	if lower > upper {
		t.Fatalf("expected lower bound <= upper bound, got %v > %v", lower, upper)
	}
}

func TestBootstrapConfidenceIntervalWithNoSamplesReturnsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	lower, upper := montecarlo.BootstrapConfidenceInterval(rng, nil, 100, 5, 95, func([]float64) float64 { return 0 })
	if lower != 0 || upper != 0 {
		t.Fatalf("expected zero bounds for empty samples, got %v %v", lower, upper)
	}
}
