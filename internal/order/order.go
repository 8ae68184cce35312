// Package order defines the Order value type shared by the risk engine and
// the backtest driver: a non-empty symbol, a side, a positive quantity, an
// order type, and a price that is required iff the order type is LIMIT.
package order

import (
	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/internal/errs"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Type selects how an order is matched against market data.
type Type string

const (
	Market Type = "MARKET"
	Limit  Type = "LIMIT"
)

// Order is one instruction to trade a symbol. Price is the zero Decimal
// when not set; HasPrice reports whether a value was supplied.
type Order struct {
	Symbol    string
	Side      Side
	Quantity  int64
	OrderType Type
	Price     decimal.Decimal
	HasPrice  bool
}

// New validates and constructs an Order. Price is required iff orderType
// is Limit.
func New(symbol string, side Side, quantity int64, orderType Type, price decimal.Decimal, hasPrice bool) (Order, error) {
	o := Order{Symbol: symbol, Side: side, Quantity: quantity, OrderType: orderType, Price: price, HasPrice: hasPrice}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Validate enforces the Order invariants. Invalid orders raise a
// Validation-kind error; callers must never silently let a malformed
// order pass.
func (o Order) Validate() error {
	if o.Symbol == "" {
		return errs.Validationf("order symbol must be non-empty")
	}
	if o.Side != Buy && o.Side != Sell {
		return errs.Validationf("order side must be BUY or SELL, got %q", o.Side)
	}
	if o.Quantity <= 0 {
		return errs.Validationf("order quantity must be positive, got %d", o.Quantity).WithContext("symbol", o.Symbol)
	}
	if o.OrderType != Market && o.OrderType != Limit {
		return errs.Validationf("order type must be MARKET or LIMIT, got %q", o.OrderType)
	}
	if o.OrderType == Limit && !o.HasPrice {
		return errs.Validationf("LIMIT order requires a price").WithContext("symbol", o.Symbol)
	}
	if o.HasPrice && !o.Price.IsPositive() {
		return errs.Validationf("order price must be positive, got %s", o.Price).WithContext("symbol", o.Symbol)
	}
	return nil
}
