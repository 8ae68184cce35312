package risk_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/order"
	"github.com/quantcore/backtest/internal/portfolio"
	"github.com/quantcore/backtest/internal/risk"
	"github.com/quantcore/backtest/internal/rtctx"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// A buy that would put 60% of total value into one symbol must fail a 50%
// position-ratio limit.
func TestMaxPositionRatioScenario(t *testing.T) {
	p, err := portfolio.New(zap.NewNop(), decimal.NewFromInt(100000), portfolio.ModeT0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rule, err := risk.NewMaxPositionRatio(d(0.5))
	if err != nil {
		t.Fatalf("NewMaxPositionRatio: %v", err)
	}
	mgr := risk.NewManager(zap.NewNop())
	mgr.Add(rule)

	o, err := order.New("CB001", order.Buy, 6000, order.Limit, decimal.NewFromInt(10), true)
	if err != nil {
		t.Fatalf("order.New: %v", err)
	}

	prices := map[string]decimal.Decimal{"CB001": decimal.NewFromInt(10)}
	result := mgr.CheckOrder(o, p, prices)
	if result.Passed {
		t.Fatal("expected order to fail max position ratio check")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected exactly one violation, got %v", result.Violations)
	}
	if !containsSubstring(result.Violations[0], "position ratio") {
		t.Fatalf("expected violation to mention position ratio, got %q", result.Violations[0])
	}
}

func TestStopLossAndTakeProfit(t *testing.T) {
	stopLoss, err := risk.NewStopLoss(d(0.1))
	if err != nil {
		t.Fatalf("NewStopLoss: %v", err)
	}
	takeProfit, err := risk.NewTakeProfit(d(0.1))
	if err != nil {
		t.Fatalf("NewTakeProfit: %v", err)
	}

	pos := &portfolio.Position{Symbol: "CB001", Quantity: 10, AvgCost: decimal.NewFromInt(100)}

	if v := stopLoss.CheckPosition("CB001", pos, decimal.NewFromInt(89)); len(v) == 0 {
		t.Fatal("expected stop loss violation at price 89 with avgCost 100, pct 0.1")
	}
	if v := stopLoss.CheckPosition("CB001", pos, decimal.NewFromInt(91)); len(v) != 0 {
		t.Fatalf("expected no stop loss violation at price 91, got %v", v)
	}

	if v := takeProfit.CheckPosition("CB001", pos, decimal.NewFromInt(111)); len(v) == 0 {
		t.Fatal("expected take profit violation at price 111 with avgCost 100, pct 0.1")
	}
	if v := takeProfit.CheckPosition("CB001", pos, decimal.NewFromInt(109)); len(v) != 0 {
		t.Fatalf("expected no take profit violation at price 109, got %v", v)
	}
}

func TestMaxHoldings(t *testing.T) {
	p, err := portfolio.New(zap.NewNop(), decimal.NewFromInt(100000), portfolio.ModeT0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Buy("AAA", 1, decimal.NewFromInt(1), "2024-01-01"); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	rule, err := risk.NewMaxHoldings(1)
	if err != nil {
		t.Fatalf("NewMaxHoldings: %v", err)
	}

	newSymbolOrder, err := order.New("BBB", order.Buy, 1, order.Market, decimal.Zero, false)
	if err != nil {
		t.Fatalf("order.New: %v", err)
	}
	if v := rule.CheckOrder(newSymbolOrder, p, nil); len(v) == 0 {
		t.Fatal("expected max holdings violation opening a second symbol")
	}

	sameSymbolOrder, err := order.New("AAA", order.Buy, 1, order.Market, decimal.Zero, false)
	if err != nil {
		t.Fatalf("order.New: %v", err)
	}
	if v := rule.CheckOrder(sameSymbolOrder, p, nil); len(v) != 0 {
		t.Fatalf("expected no violation adding to an already-held symbol, got %v", v)
	}
}

func TestMaxTradeAmount(t *testing.T) {
	rule, err := risk.NewMaxTradeAmount(decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("NewMaxTradeAmount: %v", err)
	}

	tooBig, _ := order.New("AAA", order.Buy, 100, order.Limit, decimal.NewFromInt(11), true)
	if v := rule.CheckOrder(tooBig, nil, nil); len(v) == 0 {
		t.Fatal("expected violation for order exceeding max trade amount")
	}

	fine, _ := order.New("AAA", order.Buy, 10, order.Limit, decimal.NewFromInt(11), true)
	if v := rule.CheckOrder(fine, nil, nil); len(v) != 0 {
		t.Fatalf("expected no violation, got %v", v)
	}
}

// Rule constructors reject out-of-range parameters.
func TestRuleConstructorValidation(t *testing.T) {
	if _, err := risk.NewStopLoss(decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error for pct=1")
	}
	if _, err := risk.NewMaxPositionRatio(decimal.NewFromInt(2)); err == nil {
		t.Fatal("expected error for ratio>1")
	}
	if _, err := risk.NewMaxHoldings(0); err == nil {
		t.Fatal("expected error for n=0")
	}
	if _, err := risk.NewMaxTradeAmount(decimal.Zero); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

// CheckOrder must not mutate portfolio state.
func TestCheckOrderDoesNotMutatePortfolio(t *testing.T) {
	p, err := portfolio.New(zap.NewNop(), decimal.NewFromInt(100000), portfolio.ModeT0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rule, _ := risk.NewMaxPositionRatio(d(0.5))
	mgr := risk.NewManager(zap.NewNop())
	mgr.Add(rule)

	before := p.Cash()
	o, _ := order.New("CB001", order.Buy, 100, order.Limit, decimal.NewFromInt(10), true)
	mgr.CheckOrder(o, p, map[string]decimal.Decimal{"CB001": decimal.NewFromInt(10)})

	if !p.Cash().Equal(before) {
		t.Fatalf("expected cash unchanged by check, before=%s after=%s", before, p.Cash())
	}
}

// The hook-shaped adapter returns the order on pass and nil to block.
func TestOnOrderReturnsOrderOnPassNilOnBlock(t *testing.T) {
	p, err := portfolio.New(zap.NewNop(), decimal.NewFromInt(100000), portfolio.ModeT0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rule, _ := risk.NewMaxPositionRatio(d(0.5))
	mgr := risk.NewManager(zap.NewNop())
	mgr.Add(rule)

	ctx := rtctx.New(nil, p, mgr, nil, zap.NewNop())
	ctx.Set(risk.LatestPricesKey, map[string]decimal.Decimal{"CB001": decimal.NewFromInt(10)})

	small, _ := order.New("CB001", order.Buy, 100, order.Limit, decimal.NewFromInt(10), true)
	passed, err := mgr.OnOrder(ctx, small)
	if err != nil {
		t.Fatalf("OnOrder: %v", err)
	}
	if passed == nil || passed.Symbol != "CB001" {
		t.Fatalf("expected passing order returned, got %v", passed)
	}

	big, _ := order.New("CB001", order.Buy, 6000, order.Limit, decimal.NewFromInt(10), true)
	blocked, err := mgr.OnOrder(ctx, big)
	if err != nil {
		t.Fatalf("OnOrder: %v", err)
	}
	if blocked != nil {
		t.Fatalf("expected nil for blocked order, got %v", blocked)
	}

	invalid := order.Order{Side: order.Buy, Quantity: 1, OrderType: order.Market}
	if _, err := mgr.OnOrder(ctx, invalid); err == nil {
		t.Fatal("expected validation error for malformed order")
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
