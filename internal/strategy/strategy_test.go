package strategy_test

import (
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
	"github.com/quantcore/backtest/internal/rtctx"
	"github.com/quantcore/backtest/internal/strategy"
)

func asQuantError(t *testing.T, err error) *errs.QuantError {
	t.Helper()
	qe, ok := err.(*errs.QuantError)
	if !ok {
		t.Fatalf("expected *errs.QuantError, got %T", err)
	}
	return qe
}

type noopStrategy struct {
	params map[string]any
}

func (s *noopStrategy) OnInit(*rtctx.Context) error { return nil }

func (s *noopStrategy) OnBar(*rtctx.Context, strategy.AggregatedBar) ([]strategy.Signal, error) {
	return nil, nil
}

func TestRegistryBuildUnknownNameFails(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	_, err := r.Build("does_not_exist", nil)
	if err == nil {
		t.Fatal("expected error building an unregistered strategy")
	}
	if asQuantError(t, err).Kind != errs.KindStrategy {
		t.Fatalf("expected a KindStrategy error, got %v", err)
	}
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	r.Register("double_low", func(logger *zap.Logger, params map[string]any) (strategy.Strategy, error) {
		return &noopStrategy{params: params}, nil
	})

	built, err := r.Build("double_low", map[string]any{"threshold": 5})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ns, ok := built.(*noopStrategy)
	if !ok {
		t.Fatalf("expected *noopStrategy, got %T", built)
	}
	if ns.params["threshold"] != 5 {
		t.Fatalf("expected params to be threaded through, got %v", ns.params)
	}
}

func TestRegistryRegisterOverwritesPriorConstructor(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	first := func(logger *zap.Logger, params map[string]any) (strategy.Strategy, error) {
		return &noopStrategy{params: map[string]any{"which": "first"}}, nil
	}
	second := func(logger *zap.Logger, params map[string]any) (strategy.Strategy, error) {
		return &noopStrategy{params: map[string]any{"which": "second"}}, nil
	}

	r.Register("macd", first)
	r.Register("macd", second)

	built, err := r.Build("macd", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if built.(*noopStrategy).params["which"] != "second" {
		t.Fatal("expected the later registration to win")
	}
}

func TestRegistryNames(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	ctor := func(logger *zap.Logger, params map[string]any) (strategy.Strategy, error) {
		return &noopStrategy{}, nil
	}
	r.Register("double_low", ctor)
	r.Register("macd", ctor)

	names := r.Names()
	sort.Strings(names)
	want := []string{"double_low", "macd"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
