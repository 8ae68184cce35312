// Package portfolio implements position tracking, weighted-average cost
// accounting, and T+0/T+1 settlement.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
)

// SettlementMode selects same-day (T+0) or next-day (T+1) resale
// availability.
type SettlementMode string

const (
	ModeT0 SettlementMode = "T+0"
	ModeT1 SettlementMode = "T+1"
)

// Position is one symbol's holding. Invariant: 0 <= Available <= Quantity.
// A position is removed from the portfolio once Quantity reaches zero.
type Position struct {
	Symbol       string
	Quantity     int64
	AvgCost      decimal.Decimal
	Available    int64
	LastBuyDate  string
}

// Portfolio owns cash, positions, and the T+1 pending-availability ledger.
type Portfolio struct {
	mu sync.RWMutex

	logger *zap.Logger
	mode   SettlementMode

	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]*Position

	// pendingT1[date][symbol] = quantity bought on date, released into
	// Available by a later SettleDay(date) call.
	pendingT1 map[string]map[string]int64
}

// New constructs a Portfolio. Rejects negative initial cash or an unknown
// settlement mode.
func New(logger *zap.Logger, initialCash decimal.Decimal, mode SettlementMode) (*Portfolio, error) {
	if initialCash.IsNegative() {
		return nil, errs.Validationf("initial cash must be non-negative, got %s", initialCash)
	}
	if mode != ModeT0 && mode != ModeT1 {
		return nil, errs.Validationf("unknown settlement mode %q", mode)
	}
	return &Portfolio{
		logger:      logger,
		mode:        mode,
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		pendingT1:   make(map[string]map[string]int64),
	}, nil
}

// Cash returns current cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// InitialCash returns the portfolio's starting cash.
func (p *Portfolio) InitialCash() decimal.Decimal {
	return p.initialCash
}

// Mode returns the settlement mode.
func (p *Portfolio) Mode() SettlementMode {
	return p.mode
}

// Position returns a copy of the position for symbol, or nil if not held.
func (p *Portfolio) Position(symbol string) *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns a copy of every held position, keyed by symbol.
func (p *Portfolio) Positions() map[string]*Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*Position, len(p.positions))
	for k, v := range p.positions {
		cp := *v
		out[k] = &cp
	}
	return out
}

func validateTradeInputs(symbol string, qty int64, price decimal.Decimal) error {
	if symbol == "" {
		return errs.Validationf("symbol must be non-empty")
	}
	if qty <= 0 {
		return errs.Validationf("quantity must be positive, got %d", qty)
	}
	if !price.IsPositive() {
		return errs.Validationf("price must be positive, got %s", price)
	}
	return nil
}

// Buy applies a fill: deducts cash, creates or averages the position, and
// in T+1 mode stakes the bought quantity as pending until SettleDay.
func (p *Portfolio) Buy(symbol string, qty int64, price decimal.Decimal, date string) error {
	if err := validateTradeInputs(symbol, qty, price); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	amount := decimal.NewFromInt(qty).Mul(price)
	if amount.GreaterThan(p.cash) {
		return errs.Tradef("insufficient cash: need %s, have %s", amount, p.cash).
			WithContext("symbol", symbol).WithContext("amount", amount.String())
	}

	p.cash = p.cash.Sub(amount)

	pos, exists := p.positions[symbol]
	if !exists {
		available := qty
		if p.mode == ModeT1 {
			available = 0
		}
		pos = &Position{
			Symbol:      symbol,
			Quantity:    qty,
			AvgCost:     price,
			Available:   available,
			LastBuyDate: date,
		}
		p.positions[symbol] = pos
	} else {
		totalQty := pos.Quantity + qty
		totalCost := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity)).Add(amount)
		pos.AvgCost = totalCost.Div(decimal.NewFromInt(totalQty))
		pos.Quantity = totalQty
		if p.mode == ModeT0 {
			pos.Available += qty
		}
		pos.LastBuyDate = date
	}

	if p.mode == ModeT1 {
		if p.pendingT1[date] == nil {
			p.pendingT1[date] = make(map[string]int64)
		}
		p.pendingT1[date][symbol] += qty
	}

	p.logger.Debug("buy executed",
		zap.String("symbol", symbol), zap.Int64("quantity", qty),
		zap.String("price", price.String()), zap.String("date", date),
	)
	return nil
}

// Sell applies a fill against an existing position, returning the realized
// PnL. Fails (without mutating state) if the position is missing, the
// quantity exceeds holdings, or exceeds what is currently available to
// sell under the portfolio's settlement mode.
func (p *Portfolio) Sell(symbol string, qty int64, price decimal.Decimal, date string) (decimal.Decimal, error) {
	if err := validateTradeInputs(symbol, qty, price); err != nil {
		return decimal.Zero, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero, errs.Tradef("no position in %s", symbol).WithContext("symbol", symbol)
	}
	if qty > pos.Quantity {
		return decimal.Zero, errs.Tradef("sell quantity %d exceeds position quantity %d", qty, pos.Quantity).
			WithContext("symbol", symbol)
	}

	available := p.availableLocked(symbol)
	if qty > available {
		return decimal.Zero, errs.Tradef("sell quantity %d exceeds available quantity %d", qty, available).
			WithContext("symbol", symbol).WithContext("mode", string(p.mode))
	}

	pnl := price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(qty))

	p.cash = p.cash.Add(decimal.NewFromInt(qty).Mul(price))
	pos.Quantity -= qty
	pos.Available -= qty

	if pos.Quantity == 0 {
		delete(p.positions, symbol)
	} else if p.mode == ModeT0 {
		pos.Available = pos.Quantity
	}

	p.logger.Debug("sell executed",
		zap.String("symbol", symbol), zap.Int64("quantity", qty),
		zap.String("price", price.String()), zap.String("pnl", pnl.String()),
	)
	return pnl, nil
}

// availableLocked returns the sellable quantity for symbol under the
// portfolio's settlement mode. Caller must hold p.mu.
func (p *Portfolio) availableLocked(symbol string) int64 {
	pos, ok := p.positions[symbol]
	if !ok {
		return 0
	}
	if p.mode == ModeT0 {
		return pos.Quantity
	}
	return pos.Available
}

// AvailableQuantity returns the quantity of symbol that may be sold right
// now. In T+0 this is the full position quantity; in T+1 it is the
// available-after-settlement quantity. The date parameter exists only for
// call-site symmetry with SettleDay and does not affect the result.
func (p *Portfolio) AvailableQuantity(symbol string, _ string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.availableLocked(symbol)
}

// DeductCash subtracts amount from cash, e.g. for a commission charged
// against an already-applied Buy/Sell fill. Unlike Buy, this never fails
// on insufficient cash: the cash check applies to the trade amount only,
// not the commission layered on top of it.
func (p *Portfolio) DeductCash(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.cash.Sub(amount)
}

// SettleDay releases pending T+1 quantities bought on date into each
// position's Available. No-op in T+0 mode or when nothing is pending for
// date.
func (p *Portfolio) SettleDay(date string) {
	if p.mode != ModeT1 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pending, ok := p.pendingT1[date]
	if !ok {
		return
	}
	for symbol, qty := range pending {
		if pos, ok := p.positions[symbol]; ok {
			pos.Available += qty
		}
	}
	delete(p.pendingT1, date)
}

// TotalValue returns cash plus the market value of every position, using
// prices[symbol] when present and falling back to the position's average
// cost otherwise.
func (p *Portfolio) TotalValue(prices map[string]decimal.Decimal) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := p.cash
	for symbol, pos := range p.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.AvgCost
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}

// UnrealizedPnL returns the sum of (price-avgCost)*quantity across every
// held position, using prices[symbol] when present and falling back to
// the position's average cost (contributing zero) otherwise.
func (p *Portfolio) UnrealizedPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := decimal.Zero
	for symbol, pos := range p.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.AvgCost
		}
		total = total.Add(price.Sub(pos.AvgCost).Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}

// PositionRatios returns, for every held symbol, its market value divided
// by total portfolio value. When total value is non-positive every ratio
// is zero rather than dividing by a non-positive number.
func (p *Portfolio) PositionRatios(prices map[string]decimal.Decimal) map[string]decimal.Decimal {
	total := p.TotalValue(prices)

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(p.positions))
	for symbol, pos := range p.positions {
		if !total.IsPositive() {
			out[symbol] = decimal.Zero
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			price = pos.AvgCost
		}
		value := price.Mul(decimal.NewFromInt(pos.Quantity))
		out[symbol] = value.Div(total)
	}
	return out
}
