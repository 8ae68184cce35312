// Package risk implements the composable order/position rule engine: five
// built-in rule variants and an aggregating Manager that collects every
// rule's violations without short-circuiting.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
	"github.com/quantcore/backtest/internal/order"
	"github.com/quantcore/backtest/internal/portfolio"
	"github.com/quantcore/backtest/internal/rtctx"
)

// LatestPricesKey is the run-context data key under which the backtest
// driver publishes its latest-price map for hook-shaped checks.
const LatestPricesKey = "latest_prices"

// Rule is a composable order/position check. CheckOrder and CheckPosition
// each return the violation strings they find; an empty slice means pass.
type Rule interface {
	CheckOrder(o order.Order, p *portfolio.Portfolio, prices map[string]decimal.Decimal) []string
	CheckPosition(symbol string, pos *portfolio.Position, price decimal.Decimal) []string
}

// Result is the outcome of one check pass.
type Result struct {
	Passed     bool
	Violations []string
}

// Manager runs every registered rule against an order or position and
// aggregates violations. A single check pass mutates no portfolio state.
type Manager struct {
	mu     sync.Mutex
	logger *zap.Logger
	rules  []Rule

	lastViolations []string
}

// NewManager creates an empty RiskManager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Add registers a rule, evaluated in registration order (rules are
// independent so order does not affect the aggregated result).
func (m *Manager) Add(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// CheckOrder runs every rule against o and returns the aggregated result.
func (m *Manager) CheckOrder(o order.Order, p *portfolio.Portfolio, prices map[string]decimal.Decimal) Result {
	m.mu.Lock()
	rules := append([]Rule(nil), m.rules...)
	m.mu.Unlock()

	var violations []string
	for _, r := range rules {
		violations = append(violations, r.CheckOrder(o, p, prices)...)
	}

	m.mu.Lock()
	m.lastViolations = violations
	m.mu.Unlock()

	if len(violations) > 0 {
		m.logger.Debug("order check violations", zap.Strings("violations", violations), zap.String("symbol", o.Symbol))
	}

	return Result{Passed: len(violations) == 0, Violations: violations}
}

// CheckPosition runs every rule against a held position and returns the
// aggregated result.
func (m *Manager) CheckPosition(symbol string, pos *portfolio.Position, price decimal.Decimal) Result {
	m.mu.Lock()
	rules := append([]Rule(nil), m.rules...)
	m.mu.Unlock()

	var violations []string
	for _, r := range rules {
		violations = append(violations, r.CheckPosition(symbol, pos, price)...)
	}

	m.mu.Lock()
	m.lastViolations = violations
	m.mu.Unlock()

	return Result{Passed: len(violations) == 0, Violations: violations}
}

// OnOrder adapts the Manager to the order-hook shape plugins implement:
// it returns the order unchanged when every rule passes and nil to block
// it. Portfolio and latest prices are read from the run context; either
// may be absent. Without a portfolio, the portfolio-based rules pass the
// order; without prices, every rule still runs and MaxPositionRatio values
// holdings at their average cost.
func (m *Manager) OnOrder(ctx *rtctx.Context, o order.Order) (*order.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	var p *portfolio.Portfolio
	var prices map[string]decimal.Decimal
	if ctx != nil {
		p, _ = ctx.Portfolio.(*portfolio.Portfolio)
		prices, _ = ctx.Get(LatestPricesKey, nil).(map[string]decimal.Decimal)
	}

	if result := m.CheckOrder(o, p, prices); !result.Passed {
		return nil, nil
	}
	return &o, nil
}

// LastViolations returns the violations collected by the most recent check
// call (order or position).
func (m *Manager) LastViolations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lastViolations...)
}

// StopLoss triggers when price has fallen pct or more below a position's
// average cost.
type StopLoss struct {
	pct decimal.Decimal
}

// NewStopLoss validates pct is in (0,1) and builds a StopLoss rule.
func NewStopLoss(pct decimal.Decimal) (*StopLoss, error) {
	if !pct.IsPositive() || pct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errs.Validationf("stop-loss pct must be in (0,1), got %s", pct)
	}
	return &StopLoss{pct: pct}, nil
}

func (r *StopLoss) CheckOrder(order.Order, *portfolio.Portfolio, map[string]decimal.Decimal) []string {
	return nil
}

func (r *StopLoss) CheckPosition(symbol string, pos *portfolio.Position, price decimal.Decimal) []string {
	threshold := pos.AvgCost.Mul(decimal.NewFromInt(1).Sub(r.pct))
	if price.LessThanOrEqual(threshold) {
		return []string{symbol + ": stop loss triggered, price " + price.String() + " <= " + threshold.String()}
	}
	return nil
}

// TakeProfit triggers when price has risen pct or more above a position's
// average cost.
type TakeProfit struct {
	pct decimal.Decimal
}

// NewTakeProfit validates pct is in (0,1) and builds a TakeProfit rule.
func NewTakeProfit(pct decimal.Decimal) (*TakeProfit, error) {
	if !pct.IsPositive() || pct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errs.Validationf("take-profit pct must be in (0,1), got %s", pct)
	}
	return &TakeProfit{pct: pct}, nil
}

func (r *TakeProfit) CheckOrder(order.Order, *portfolio.Portfolio, map[string]decimal.Decimal) []string {
	return nil
}

func (r *TakeProfit) CheckPosition(symbol string, pos *portfolio.Position, price decimal.Decimal) []string {
	threshold := pos.AvgCost.Mul(decimal.NewFromInt(1).Add(r.pct))
	if price.GreaterThanOrEqual(threshold) {
		return []string{symbol + ": take profit triggered, price " + price.String() + " >= " + threshold.String()}
	}
	return nil
}

// MaxPositionRatio rejects BUY orders that would push a symbol's projected
// share of total portfolio value above ratio.
type MaxPositionRatio struct {
	ratio decimal.Decimal
}

// NewMaxPositionRatio validates ratio is in (0,1].
func NewMaxPositionRatio(ratio decimal.Decimal) (*MaxPositionRatio, error) {
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errs.Validationf("max position ratio must be in (0,1], got %s", ratio)
	}
	return &MaxPositionRatio{ratio: ratio}, nil
}

func (r *MaxPositionRatio) CheckOrder(o order.Order, p *portfolio.Portfolio, prices map[string]decimal.Decimal) []string {
	if o.Side != order.Buy || p == nil {
		return nil
	}

	total := p.TotalValue(prices)
	if !total.IsPositive() {
		return nil
	}

	fillPrice := o.Price
	if !o.HasPrice {
		if price, ok := prices[o.Symbol]; ok {
			fillPrice = price
		}
	}
	orderValue := fillPrice.Mul(decimal.NewFromInt(o.Quantity))

	existingValue := decimal.Zero
	if pos := p.Position(o.Symbol); pos != nil {
		marketPrice, ok := prices[o.Symbol]
		if !ok {
			marketPrice = pos.AvgCost
		}
		existingValue = marketPrice.Mul(decimal.NewFromInt(pos.Quantity))
	}

	projected := existingValue.Add(orderValue)
	ratio := projected.Div(total)
	if ratio.GreaterThan(r.ratio) {
		return []string{o.Symbol + ": projected position ratio " + ratio.String() + " exceeds limit " + r.ratio.String()}
	}
	return nil
}

func (r *MaxPositionRatio) CheckPosition(string, *portfolio.Position, decimal.Decimal) []string {
	return nil
}

// MaxHoldings rejects BUY orders that would open a new symbol once the
// portfolio already holds n distinct symbols.
type MaxHoldings struct {
	n int
}

// NewMaxHoldings validates n is positive.
func NewMaxHoldings(n int) (*MaxHoldings, error) {
	if n <= 0 {
		return nil, errs.Validationf("max holdings must be positive, got %d", n)
	}
	return &MaxHoldings{n: n}, nil
}

func (r *MaxHoldings) CheckOrder(o order.Order, p *portfolio.Portfolio, _ map[string]decimal.Decimal) []string {
	if o.Side != order.Buy || p == nil {
		return nil
	}
	if p.Position(o.Symbol) != nil {
		return nil
	}
	if len(p.Positions()) >= r.n {
		return []string{o.Symbol + ": opening a new position would exceed max holdings of " + decimal.NewFromInt(int64(r.n)).String()}
	}
	return nil
}

func (r *MaxHoldings) CheckPosition(string, *portfolio.Position, decimal.Decimal) []string {
	return nil
}

// MaxTradeAmount rejects orders whose notional value exceeds a.
type MaxTradeAmount struct {
	amount decimal.Decimal
}

// NewMaxTradeAmount validates amount is positive.
func NewMaxTradeAmount(amount decimal.Decimal) (*MaxTradeAmount, error) {
	if !amount.IsPositive() {
		return nil, errs.Validationf("max trade amount must be positive, got %s", amount)
	}
	return &MaxTradeAmount{amount: amount}, nil
}

func (r *MaxTradeAmount) CheckOrder(o order.Order, _ *portfolio.Portfolio, _ map[string]decimal.Decimal) []string {
	if !o.HasPrice {
		return nil
	}
	notional := decimal.NewFromInt(o.Quantity).Mul(o.Price)
	if notional.GreaterThan(r.amount) {
		return []string{o.Symbol + ": trade amount " + notional.String() + " exceeds limit " + r.amount.String()}
	}
	return nil
}

func (r *MaxTradeAmount) CheckPosition(string, *portfolio.Position, decimal.Decimal) []string {
	return nil
}
