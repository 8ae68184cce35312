package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
	"github.com/quantcore/backtest/internal/events"
	"github.com/quantcore/backtest/internal/order"
	"github.com/quantcore/backtest/internal/portfolio"
	"github.com/quantcore/backtest/internal/risk"
	"github.com/quantcore/backtest/internal/rtctx"
	"github.com/quantcore/backtest/internal/strategy"
	"github.com/quantcore/backtest/pkg/utils"
)

// Config bounds one Run: starting capital, settlement mode, frictions, and
// the risk rules the driver checks a matched fill against before it commits
// to the portfolio. Each Run gets a fresh Portfolio, RiskManager, and event
// Bus built from this Config.
type Config struct {
	InitialCash      decimal.Decimal
	Mode             portfolio.SettlementMode
	CommissionRate   decimal.Decimal
	Slippage         decimal.Decimal
	EnableRiskChecks bool
	RiskRules        []risk.Rule
}

// Driver replays a strategy against historical bars and produces a Result:
// date aggregation, strategy dispatch, matching, commission, settlement,
// statistics.
type Driver struct {
	logger *zap.Logger
	cfg    Config
}

// maxSlippage caps the configured per-fill slippage fraction.
var maxSlippage = decimal.NewFromFloat(0.05)

// NewDriver builds a Driver from cfg. Slippage is clamped to [0, 5%].
func NewDriver(logger *zap.Logger, cfg Config) *Driver {
	cfg.Slippage = utils.ClampDecimal(cfg.Slippage, decimal.Zero, maxSlippage)
	return &Driver{logger: logger, cfg: cfg}
}

// dayGroup is every bar sharing one trading date, plus the parsed date
// used for the [startDate, endDate] window check.
type dayGroup struct {
	date time.Time
	bars []Bar
}

// Run replays strat against rawBars in [startDate, endDate], inclusive on
// both ends, and returns the resulting statistics. Strategy errors
// propagate to the caller so a host can fail fast; a rejected or
// insufficient-funds fill is skipped, never raised.
func (d *Driver) Run(ctx context.Context, strat strategy.Strategy, rawBars []RawBar, startDate, endDate time.Time) (Result, error) {
	port, err := portfolio.New(d.logger, d.cfg.InitialCash, d.cfg.Mode)
	if err != nil {
		return Result{}, err
	}

	riskMgr := risk.NewManager(d.logger)
	for _, r := range d.cfg.RiskRules {
		riskMgr.Add(r)
	}

	bus := events.NewBus(d.logger)
	bus.Start()
	defer bus.Stop()

	latestPrices := make(map[string]decimal.Decimal)

	rc := rtctx.New(d.cfg, port, riskMgr, bus, d.logger)
	rc.Set(risk.LatestPricesKey, latestPrices)
	flowCtx := rtctx.EnsureFlow(ctx)
	restore := rtctx.Enter(flowCtx, rc)
	defer restore()

	if err := strat.OnInit(rc); err != nil {
		return Result{}, errs.Wrap(errs.KindStrategy, err, "strategy OnInit failed")
	}

	groups, dates, err := aggregateByDate(rawBars, startDate, endDate)
	if err != nil {
		return Result{}, err
	}

	var series []NetValuePoint
	var trades []Trade

	for _, dateStr := range dates {
		day := groups[dateStr]
		for _, b := range day.bars {
			if b.Symbol != "" {
				latestPrices[b.Symbol] = b.Close
			}
		}

		bus.Put(events.New(events.TypeBar, map[string]any{"date": dateStr, "count": len(day.bars)}, "backtest.Driver"))

		agg := AggregatedBar{Date: dateStr, Bars: day.bars}
		signals, err := strat.OnBar(rc, agg)
		if err != nil {
			return Result{}, errs.Wrap(errs.KindStrategy, err, "strategy OnBar failed").WithContext("date", dateStr)
		}

		for _, sig := range signals {
			trade, ok := d.processSignal(bus, riskMgr, port, sig, latestPrices, dateStr)
			if !ok {
				continue
			}
			trades = append(trades, trade)
		}

		port.SettleDay(dateStr)

		value, _ := port.TotalValue(latestPrices).Float64()
		series = append(series, NetValuePoint{Date: dateStr, Value: value})
	}

	return computeResult(d.cfg.InitialCash, series, trades), nil
}

// processSignal normalizes and matches one strategy signal, runs the
// optional risk check, and applies the resulting fill to the portfolio.
// Returns ok=false for anything treated as a skip rather than a hard
// failure: a rejected match, a risk violation, insufficient cash, or a
// failed Sell (e.g. a T+1 availability block).
func (d *Driver) processSignal(bus *events.Bus, riskMgr *risk.Manager, port *portfolio.Portfolio, sig Signal, latestPrices map[string]decimal.Decimal, dateStr string) (Trade, bool) {
	no := normalizeSignal(sig)

	closePrice, hasClose := latestPrices[no.Symbol]

	var currentQty int64
	if pos := port.Position(no.Symbol); pos != nil {
		currentQty = pos.Quantity
	}

	fill, err := matchAggregated(no, closePrice, hasClose, currentQty, port.Cash(), d.cfg.Slippage)
	if err != nil {
		d.logger.Debug("order rejected", zap.String("symbol", no.Symbol), zap.Error(err))
		return Trade{}, false
	}

	if d.cfg.EnableRiskChecks {
		if o, oerr := order.New(fill.Symbol, fill.Side, fill.Quantity, order.Limit, fill.Price, true); oerr == nil {
			result := riskMgr.CheckOrder(o, port, latestPrices)
			if !result.Passed {
				d.logger.Debug("order blocked by risk engine", zap.String("symbol", fill.Symbol), zap.Strings("violations", result.Violations))
				bus.Put(events.New(events.TypeRiskTrigger, map[string]any{"symbol": fill.Symbol, "violations": result.Violations}, "backtest.Driver"))
				return Trade{}, false
			}
		}
	}

	commission := fill.Amount.Mul(d.cfg.CommissionRate)

	switch fill.Side {
	case order.Buy:
		if fill.Amount.Add(commission).GreaterThan(port.Cash()) {
			return Trade{}, false
		}
		if err := port.Buy(fill.Symbol, fill.Quantity, fill.Price, dateStr); err != nil {
			d.logger.Debug("buy skipped", zap.String("symbol", fill.Symbol), zap.Error(err))
			return Trade{}, false
		}
		port.DeductCash(commission)

		bus.Put(events.New(events.TypeTrade, map[string]any{"symbol": fill.Symbol, "side": string(fill.Side), "quantity": fill.Quantity}, "backtest.Driver"))
		return Trade{
			Date: dateStr, Symbol: fill.Symbol, Side: fill.Side, Quantity: fill.Quantity,
			Price: fill.Price, Amount: fill.Amount, Commission: commission, PnL: decimal.Zero,
		}, true

	case order.Sell:
		pnl, err := port.Sell(fill.Symbol, fill.Quantity, fill.Price, dateStr)
		if err != nil {
			d.logger.Debug("sell skipped", zap.String("symbol", fill.Symbol), zap.Error(err))
			return Trade{}, false
		}
		port.DeductCash(commission)

		bus.Put(events.New(events.TypeTrade, map[string]any{"symbol": fill.Symbol, "side": string(fill.Side), "quantity": fill.Quantity}, "backtest.Driver"))
		return Trade{
			Date: dateStr, Symbol: fill.Symbol, Side: fill.Side, Quantity: fill.Quantity,
			Price: fill.Price, Amount: fill.Amount, Commission: commission, PnL: pnl.Sub(commission),
		}, true

	default:
		return Trade{}, false
	}
}

// aggregateByDate coerces every raw bar's date, drops bars outside
// [startDate, endDate], and groups the rest by ISO date, returning the
// group map alongside its keys in ascending date order.
func aggregateByDate(rawBars []RawBar, startDate, endDate time.Time) (map[string]*dayGroup, []string, error) {
	groups := make(map[string]*dayGroup)

	for _, rb := range rawBars {
		t, err := coerceDate(rb.Date)
		if err != nil {
			return nil, nil, errs.Wrap(errs.KindData, err, "bar date coercion failed").WithContext("symbol", rb.Symbol)
		}
		if t.Before(startDate) || t.After(endDate) {
			continue
		}

		key := t.Format("2006-01-02")
		g, ok := groups[key]
		if !ok {
			g = &dayGroup{date: t}
			groups[key] = g
		}
		g.bars = append(g.bars, Bar{
			Symbol:   rb.Symbol,
			Datetime: key,
			Open:     rb.Open,
			High:     rb.High,
			Low:      rb.Low,
			Close:    rb.Close,
			Volume:   rb.Volume,
			Amount:   rb.Amount,
		})
	}

	dates := make([]string, 0, len(groups))
	for k := range groups {
		dates = append(dates, k)
	}
	sort.Strings(dates)

	return groups, dates, nil
}

// coerceDate accepts a time.Time or a string in one of "2006-01-02",
// "2006/01/02", "20060102".
func coerceDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := utils.ParseBarDate(t)
		if err != nil {
			return time.Time{}, errs.Dataf("%s", err.Error())
		}
		return parsed, nil
	default:
		return time.Time{}, errs.Dataf("unsupported bar date value: %v", v)
	}
}
