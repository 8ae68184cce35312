package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/internal/errs"
	"github.com/quantcore/backtest/internal/order"
)

// normalizedOrder is a Signal after side/quantity/type defaulting, before
// matching against a price. Side and OrderType stay strings (not the
// order.Side/order.Type enums) because an invalid value must be rejected by
// the matcher rather than by normalization itself.
type normalizedOrder struct {
	Symbol    string
	Side      string
	Quantity  int64
	OrderType string
	Price     decimal.Decimal
	HasPrice  bool
}

// normalizeSignal defaults side, quantity, and order type: side is
// uppercased (Direction fills in for an unset Side), order type defaults
// to LIMIT when a price is present and MARKET otherwise. Quantity defaults
// to 1 only when the strategy left it unset; an explicit zero or negative
// quantity passes through unchanged and is resolved later by the matcher's
// auto-sizing branch.
func normalizeSignal(s Signal) normalizedOrder {
	side := s.Side
	if side == "" {
		side = s.Direction
	}

	quantity := s.Quantity
	if !s.HasQuantity {
		quantity = 1
	}

	orderType := s.OrderType
	if orderType == "" {
		if s.HasPrice {
			orderType = string(order.Limit)
		} else {
			orderType = string(order.Market)
		}
	}

	return normalizedOrder{
		Symbol:    s.Symbol,
		Side:      upper(side),
		Quantity:  quantity,
		OrderType: upper(orderType),
		Price:     s.Price,
		HasPrice:  s.HasPrice,
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// matchFill is one resolved fill produced by a matcher, prior to commission
// and portfolio application.
type matchFill struct {
	Symbol   string
	Side     order.Side
	Quantity int64
	Price    decimal.Decimal
	Amount   decimal.Decimal
}

// matchAggregated is the primary aggregated-bar matcher: it always
// executes like a market fill against the day's latest close, applying
// slippage, and auto-sizes a non-positive quantity (30% of available cash
// for BUY, the full current position for SELL).
func matchAggregated(no normalizedOrder, closePrice decimal.Decimal, hasClose bool, currentQty int64, cash decimal.Decimal, slippage decimal.Decimal) (matchFill, error) {
	if no.Symbol == "" {
		return matchFill{}, errs.Tradef("order rejected: empty symbol")
	}
	if no.Side != string(order.Buy) && no.Side != string(order.Sell) {
		return matchFill{}, errs.Tradef("order rejected: invalid side %q", no.Side).WithContext("symbol", no.Symbol)
	}
	if !hasClose || !closePrice.IsPositive() {
		return matchFill{}, errs.Tradef("order rejected: no price available for %s", no.Symbol).WithContext("symbol", no.Symbol)
	}

	quantity := no.Quantity
	if quantity <= 0 {
		switch order.Side(no.Side) {
		case order.Buy:
			available := cash.Mul(decimal.NewFromFloat(0.3))
			quantity = int64(math.Floor(available.Div(closePrice).InexactFloat64()))
		case order.Sell:
			quantity = currentQty
		}
	}
	if quantity <= 0 {
		return matchFill{}, errs.Tradef("order rejected: computed quantity %d is non-positive", quantity).WithContext("symbol", no.Symbol)
	}

	fillPrice := closePrice
	one := decimal.NewFromInt(1)
	if order.Side(no.Side) == order.Buy {
		fillPrice = closePrice.Mul(one.Add(slippage))
	} else {
		fillPrice = closePrice.Mul(one.Sub(slippage))
	}

	amount := fillPrice.Mul(decimal.NewFromInt(quantity))
	return matchFill{
		Symbol:   no.Symbol,
		Side:     order.Side(no.Side),
		Quantity: quantity,
		Price:    fillPrice,
		Amount:   amount,
	}, nil
}

// matchBar is the secondary per-bar MARKET/LIMIT matcher: a MARKET order
// always fills against bar.Close with slippage; a LIMIT BUY fills at its
// limit price if bar.Low <= limit; a LIMIT SELL fills at its limit price
// if bar.High >= limit. Returns filled=false, no error, when a LIMIT order
// simply does not cross.
func matchBar(no normalizedOrder, bar Bar, slippage decimal.Decimal) (fillPrice decimal.Decimal, filled bool, err error) {
	if no.Symbol == "" {
		return decimal.Zero, false, errs.Tradef("order rejected: empty symbol")
	}
	side := order.Side(no.Side)
	if side != order.Buy && side != order.Sell {
		return decimal.Zero, false, errs.Tradef("order rejected: invalid side %q", no.Side).WithContext("symbol", no.Symbol)
	}

	one := decimal.NewFromInt(1)
	switch order.Type(no.OrderType) {
	case order.Market:
		if side == order.Buy {
			return bar.Close.Mul(one.Add(slippage)), true, nil
		}
		return bar.Close.Mul(one.Sub(slippage)), true, nil
	case order.Limit:
		if !no.HasPrice {
			return decimal.Zero, false, errs.Tradef("LIMIT order requires a price").WithContext("symbol", no.Symbol)
		}
		if side == order.Buy {
			if bar.Low.LessThanOrEqual(no.Price) {
				return no.Price, true, nil
			}
			return decimal.Zero, false, nil
		}
		if bar.High.GreaterThanOrEqual(no.Price) {
			return no.Price, true, nil
		}
		return decimal.Zero, false, nil
	default:
		return decimal.Zero, false, errs.Tradef("order rejected: invalid order type %q", no.OrderType).WithContext("symbol", no.Symbol)
	}
}
