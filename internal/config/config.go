// Package config defines the validated configuration record the core
// consumes. Config file loading and CLI parsing are external
// collaborators; only this record shape and its cross-field invariants are
// part of the contract.
package config

import (
	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/internal/errs"
)

// Environment selects the deployment environment.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// Settlement selects T+0 or T+1 resale availability for one asset type.
type Settlement string

const (
	SettlementT0 Settlement = "T+0"
	SettlementT1 Settlement = "T+1"
)

// EngineConfig holds worker-count and queue-size settings. They are
// validated here; no component in this module reads them (the event bus
// dispatches synchronously).
type EngineConfig struct {
	WorkerCount int `json:"workerCount"`
	QueueSize   int `json:"queueSize"`
}

func (c EngineConfig) Validate() error {
	if c.WorkerCount < 1 {
		return errs.Configf("engine.workerCount must be >= 1, got %d", c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return errs.Configf("engine.queueSize must be >= 1, got %d", c.QueueSize)
	}
	return nil
}

// LoggingConfig configures log level/format; transport setup is external.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// PluginsConfig lists which plugins are enabled and whether autoload runs.
type PluginsConfig struct {
	Enabled  []string `json:"enabled"`
	Autoload bool     `json:"autoload"`
}

// AssetTypeSpec is the extended per-asset-type settlement/fee record. This
// is the canonical shape; loaders that accept a short form expand it into
// this one before validation.
type AssetTypeSpec struct {
	Settlement Settlement      `json:"settlement"`
	LotSize    int             `json:"lotSize"`
	FeeRate    decimal.Decimal `json:"feeRate"`
}

func (s AssetTypeSpec) Validate(name string) error {
	if s.Settlement != SettlementT0 && s.Settlement != SettlementT1 {
		return errs.Configf("asset_types.%s.settlement must be T+0 or T+1, got %q", name, s.Settlement)
	}
	if s.LotSize < 1 {
		return errs.Configf("asset_types.%s.lotSize must be >= 1, got %d", name, s.LotSize)
	}
	if !s.FeeRate.IsPositive() || s.FeeRate.GreaterThan(decimal.NewFromFloat(0.01)) {
		return errs.Configf("asset_types.%s.feeRate must be in (0,0.01], got %s", name, s.FeeRate)
	}
	return nil
}

// AssetConfig selects which asset type is in play and its free-form params.
type AssetConfig struct {
	Type   string         `json:"type"` // "stock" or "cb"
	Params map[string]any `json:"params"`
}

// MACDParams configures a MACD strategy; Fast must be less than Slow.
type MACDParams struct {
	Fast   int `json:"fast"`
	Slow   int `json:"slow"`
	Signal int `json:"signal"`
}

func (p MACDParams) Validate() error {
	if p.Fast >= p.Slow {
		return errs.Configf("strategy.params: MACD fast (%d) must be < slow (%d)", p.Fast, p.Slow)
	}
	return nil
}

// DoubleLowParams configures a double_low strategy.
type DoubleLowParams struct {
	PriceThreshold   decimal.Decimal `json:"priceThreshold"`
	PremiumThreshold decimal.Decimal `json:"premiumThreshold"`
}

// StrategyConfig selects the named strategy and its parameters. Name must
// be one of double_low or macd; MACDParams is validated only when Name is
// macd.
type StrategyConfig struct {
	Name       string          `json:"name"`
	MACD       MACDParams      `json:"macd,omitempty"`
	DoubleLow  DoubleLowParams `json:"doubleLow,omitempty"`
	Params     map[string]any  `json:"params"`
}

func (c StrategyConfig) Validate() error {
	switch c.Name {
	case "double_low":
		return nil
	case "macd":
		return c.MACD.Validate()
	default:
		return errs.Configf("strategy.name must be double_low or macd, got %q", c.Name)
	}
}

// DataSourceConfig names the primary/backup data adapters and a cache
// directory; concrete adapters are external collaborators.
type DataSourceConfig struct {
	Primary  string `json:"primary"`
	Backup   string `json:"backup"`
	CacheDir string `json:"cacheDir"`
}

// BacktestConfig bounds the replay window and capital.
type BacktestConfig struct {
	InitialCapital decimal.Decimal `json:"initialCapital"`
	StartDate      string          `json:"startDate"`
	EndDate        string          `json:"endDate"`
	FeeRate        decimal.Decimal `json:"feeRate"`
}

func (c BacktestConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return errs.Configf("backtest.initialCapital must be > 0, got %s", c.InitialCapital)
	}
	if c.EndDate < c.StartDate {
		return errs.Configf("backtest.endDate (%s) must be >= startDate (%s)", c.EndDate, c.StartDate)
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThan(decimal.NewFromFloat(0.01)) {
		return errs.Configf("backtest.feeRate must be in [0,0.01], got %s", c.FeeRate)
	}
	return nil
}

// RiskConfig seeds the default risk rules the driver wires into the risk
// manager.
type RiskConfig struct {
	MaxPositionRatio decimal.Decimal `json:"maxPositionRatio"`
	StopLossRatio    decimal.Decimal `json:"stopLossRatio"`
}

func (c RiskConfig) Validate() error {
	if !c.MaxPositionRatio.IsPositive() || c.MaxPositionRatio.GreaterThan(decimal.NewFromInt(1)) {
		return errs.Configf("risk.maxPositionRatio must be in (0,1], got %s", c.MaxPositionRatio)
	}
	if !c.StopLossRatio.IsPositive() || c.StopLossRatio.GreaterThan(decimal.NewFromInt(1)) {
		return errs.Configf("risk.stopLossRatio must be in (0,1], got %s", c.StopLossRatio)
	}
	return nil
}

// Framework is the top-level validated configuration record. Short-form
// records are a loader concern: external loaders expand them into this
// shape before the core ever sees them.
type Framework struct {
	Environment Environment              `json:"environment"`
	Engine      EngineConfig             `json:"engine"`
	Logging     LoggingConfig            `json:"logging"`
	Plugins     PluginsConfig            `json:"plugins"`
	AssetTypes  map[string]AssetTypeSpec `json:"asset_types"`
	Asset       AssetConfig              `json:"asset"`
	Strategy    StrategyConfig           `json:"strategy"`
	DataSource  DataSourceConfig         `json:"data_source"`
	Backtest    BacktestConfig           `json:"backtest"`
	Risk        RiskConfig               `json:"risk"`
}

// Validate checks every cross-field invariant, returning the first
// violation found.
func (c Framework) Validate() error {
	if c.Environment != EnvDev && c.Environment != EnvTest && c.Environment != EnvProd {
		return errs.Configf("environment must be dev, test, or prod, got %q", c.Environment)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	for name, spec := range c.AssetTypes {
		if err := spec.Validate(name); err != nil {
			return err
		}
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return nil
}
