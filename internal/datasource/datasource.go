// Package datasource declares the data-source contract the backtest core
// consumes. Concrete adapters (exchange/vendor clients) are external
// collaborators; only the interface and the normalized Bar shape are part
// of the contract.
package datasource

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/internal/strategy"
)

// Bar is an alias for the normalized bar shape the strategy package
// defines, so adapters and strategies agree on one type.
type Bar = strategy.Bar

// DataSource is implemented by concrete market-data adapters.
type DataSource interface {
	// FetchBars returns normalized bars for symbol in [start, end],
	// inclusive on both ends.
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)

	// FetchRealtime returns the latest known field set for symbol, keyed
	// by field name (e.g. "close", "volume").
	FetchRealtime(ctx context.Context, symbol string) (map[string]decimal.Decimal, error)
}
