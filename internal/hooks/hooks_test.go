package hooks_test

import (
	"testing"

	"github.com/quantcore/backtest/internal/hooks"
)

func TestPriorityOrderAllResults(t *testing.T) {
	caller := hooks.NewCaller("on_trade", hooks.SpecOptions{})

	var order []string
	caller.Register(func(args ...any) (any, error) {
		order = append(order, "low")
		return "low", nil
	}, hooks.ImplOptions{Priority: 1})
	caller.Register(func(args ...any) (any, error) {
		order = append(order, "high")
		return "high", nil
	}, hooks.ImplOptions{Priority: 10})

	result, err := caller.Call()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := result.([]any)
	if len(results) != 2 || results[0] != "high" || results[1] != "low" {
		t.Fatalf("unexpected results: %v", results)
	}
	if order[0] != "high" || order[1] != "low" {
		t.Fatalf("unexpected call order: %v", order)
	}
}

func TestFirstResultStopsAtFirstNonNil(t *testing.T) {
	caller := hooks.NewCaller("on_order", hooks.SpecOptions{FirstResult: true})

	calledSecond := false
	caller.Register(func(args ...any) (any, error) {
		return "order-accepted", nil
	}, hooks.ImplOptions{Priority: 5})
	caller.Register(func(args ...any) (any, error) {
		calledSecond = true
		return "order-accepted-2", nil
	}, hooks.ImplOptions{Priority: 1})

	result, err := caller.Call()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "order-accepted" {
		t.Fatalf("expected first-result value, got %v", result)
	}
	if calledSecond {
		t.Fatal("lower-priority implementation should not run once a non-nil result is found")
	}
}

func TestNoImplementationsNotOptionalErrors(t *testing.T) {
	caller := hooks.NewCaller("on_error", hooks.SpecOptions{Optional: false})
	if _, err := caller.Call(); err == nil {
		t.Fatal("expected lookup error for hook with no implementations")
	}
}

func TestNoImplementationsOptionalReturnsEmpty(t *testing.T) {
	caller := hooks.NewCaller("on_error", hooks.SpecOptions{Optional: true})
	result, err := caller.Call()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results, ok := result.([]any); !ok || len(results) != 0 {
		t.Fatalf("expected empty slice, got %v", result)
	}
}
