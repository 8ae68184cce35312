// Package montecarlo resamples a finished backtest's trade sequence to
// estimate how much of its result is path-dependent luck: bootstrap
// shuffling the trade-level PnL and replaying it as a synthetic equity
// curve, across many trials run concurrently on a worker pool.
package montecarlo

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/backtest"
	"github.com/quantcore/backtest/internal/workers"
)

// Config controls the resampling run.
type Config struct {
	// Trials is the number of bootstrap trials to run. Defaults to 1000
	// when zero.
	Trials int
	// RuinThreshold is the equity fraction (of starting equity) below
	// which a trial is counted as ruined. Defaults to 0.5 when zero.
	RuinThreshold float64
	// Seed seeds the random source driving the bootstrap shuffle, for
	// reproducible runs. Two Simulators built with the same seed and fed
	// the same trades produce the same Result.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Trials <= 0 {
		c.Trials = 1000
	}
	if c.RuinThreshold <= 0 {
		c.RuinThreshold = 0.5
	}
	return c
}

// Result is the distribution of simulated outcomes across every trial.
type Result struct {
	Trials            int
	P5TerminalEquity  float64
	P50TerminalEquity float64
	P95TerminalEquity float64
	MaxDrawdownP95    float64
	ProbabilityRuin   float64
	Distribution      []float64 // sorted terminal equity per trial
}

// Simulator runs bootstrap resampling trials over a completed backtest's
// trades, in parallel, using an internal worker pool.
type Simulator struct {
	logger *zap.Logger
	config Config
}

// New builds a Simulator. A nil logger falls back to zap.NewNop.
func New(logger *zap.Logger, config Config) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{logger: logger, config: config.withDefaults()}
}

// Run resamples result.Trades across s.config.Trials parallel trials and
// returns the resulting outcome distribution. An empty trade list returns
// a zero-value Result with Trials set.
func (s *Simulator) Run(result backtest.Result) Result {
	returns := extractReturns(result.Trades)
	if len(returns) == 0 {
		return Result{Trials: s.config.Trials}
	}

	pool := workers.NewPool(s.logger, &workers.PoolConfig{
		Name:            "montecarlo",
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       s.config.Trials,
		TaskTimeout:     defaultTaskTimeout,
		ShutdownTimeout: defaultTaskTimeout,
		PanicRecovery:   true,
	})
	pool.Start()
	defer pool.Stop()

	terminal := make([]float64, s.config.Trials)
	maxDD := make([]float64, s.config.Trials)

	var wg sync.WaitGroup
	wg.Add(s.config.Trials)
	for i := 0; i < s.config.Trials; i++ {
		i := i
		rng := rand.New(rand.NewSource(s.config.Seed + int64(i)))
		err := pool.SubmitFunc(func() error {
			defer wg.Done()
			shuffled := shuffleReturns(rng, returns)
			equity, drawdown := simulatePath(shuffled)
			terminal[i] = equity
			maxDD[i] = drawdown
			return nil
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("monte carlo trial dropped", zap.Int("trial", i), zap.Error(err))
			terminal[i] = 1.0
		}
	}
	wg.Wait()

	sorted := append([]float64(nil), terminal...)
	sort.Float64s(sorted)

	ruinCount := 0
	for _, eq := range terminal {
		if eq < s.config.RuinThreshold {
			ruinCount++
		}
	}

	ddSorted := append([]float64(nil), maxDD...)
	sort.Float64s(ddSorted)

	return Result{
		Trials:            s.config.Trials,
		P5TerminalEquity:  percentile(sorted, 5),
		P50TerminalEquity: percentile(sorted, 50),
		P95TerminalEquity: percentile(sorted, 95),
		MaxDrawdownP95:    percentile(ddSorted, 95),
		ProbabilityRuin:   float64(ruinCount) / float64(s.config.Trials),
		Distribution:      sorted,
	}
}

// extractReturns converts a trade sequence's PnL into a slice of
// per-trade return fractions relative to the trade's own notional amount,
// the unit simulatePath compounds against a unit starting equity.
func extractReturns(trades []backtest.Trade) []float64 {
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		amount, _ := t.Amount.Float64()
		if amount == 0 {
			continue
		}
		pnl, _ := t.PnL.Float64()
		returns = append(returns, pnl/amount)
	}
	return returns
}

// shuffleReturns returns a Fisher-Yates shuffled copy of returns, leaving
// the input untouched so every trial resamples from the same source.
func shuffleReturns(rng *rand.Rand, returns []float64) []float64 {
	shuffled := append([]float64(nil), returns...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// simulatePath compounds returns against a unit starting equity and
// tracks the resulting terminal equity and maximum drawdown from peak.
func simulatePath(returns []float64) (terminalEquity, maxDrawdown float64) {
	equity := 1.0
	peak := 1.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	return equity, maxDrawdown
}

// percentile linearly interpolates the p-th percentile (0-100) of a
// pre-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// BootstrapConfidenceInterval resamples samples with replacement across
// trials and returns the [lower, upper] percentile bounds of metric
// applied to each resample.
func BootstrapConfidenceInterval(rng *rand.Rand, samples []float64, trials int, lower, upper float64, metric func([]float64) float64) (float64, float64) {
	if len(samples) == 0 || trials <= 0 {
		return 0, 0
	}

	results := make([]float64, trials)
	resample := make([]float64, len(samples))
	for t := 0; t < trials; t++ {
		for i := range resample {
			resample[i] = samples[rng.Intn(len(samples))]
		}
		results[t] = metric(resample)
	}

	sort.Float64s(results)
	return percentile(results, lower), percentile(results, upper)
}

const defaultTaskTimeout = 30 * time.Second
