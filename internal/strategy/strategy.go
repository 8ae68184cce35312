// Package strategy declares the strategy contract the backtest driver
// consumes and a name-keyed constructor registry matching the config
// record's strategy.name field. Concrete strategies (double_low, macd)
// are external collaborators; only the interface and registry mechanism
// live here.
package strategy

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
	"github.com/quantcore/backtest/internal/rtctx"
)

// Signal is the single tagged-record shape every strategy emits. Side and
// Direction are interchangeable at the driver's normalization boundary; a
// strategy should set one. HasQuantity/HasPrice distinguish "absent" from
// an explicit zero value.
type Signal struct {
	Symbol      string
	Side        string
	Direction   string
	Quantity    int64
	HasQuantity bool
	OrderType   string
	Price       decimal.Decimal
	HasPrice    bool
}

// AggregatedBar bundles every bar sharing one trading date.
type AggregatedBar struct {
	Date   string
	Bars   []Bar
}

// Bar is a normalized per-symbol OHLCV record.
type Bar struct {
	Symbol   string
	Datetime string
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Amount   decimal.Decimal
}

// Strategy is the contract a backtest run drives. OnInit is optional: a
// strategy with nothing to do on init can leave it a no-op.
type Strategy interface {
	OnInit(ctx *rtctx.Context) error
	OnBar(ctx *rtctx.Context, bar AggregatedBar) ([]Signal, error)
}

// Constructor builds a fresh Strategy instance, typically closing over a
// logger and the strategy's validated parameters.
type Constructor func(logger *zap.Logger, params map[string]any) (Strategy, error)

// Registry is a name -> Constructor lookup matching the config record's
// strategy.name ∈ {double_low, macd} field.
type Registry struct {
	logger       *zap.Logger
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger, constructors: make(map[string]Constructor)}
}

// Register adds a constructor under name, overwriting any prior
// registration — later registrations (e.g. host overrides) win.
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

// Build constructs the strategy registered under name.
func (r *Registry) Build(name string, params map[string]any) (Strategy, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, errs.Strategyf("no strategy registered under name %q", name).WithContext("name", name)
	}
	return ctor(r.logger, params)
}

// Names returns every registered strategy name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}
