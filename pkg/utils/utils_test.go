package utils_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/backtest/pkg/utils"
)

func TestGenerateIDPrefixAndUniqueness(t *testing.T) {
	a := utils.GenerateID("run")
	b := utils.GenerateID("run")

	if !strings.HasPrefix(a, "run_") {
		t.Fatalf("expected run_ prefix, got %q", a)
	}
	if a == b {
		t.Fatal("expected distinct IDs across calls")
	}
	if bare := utils.GenerateID(""); strings.Contains(bare, "_") {
		t.Fatalf("expected no separator without a prefix, got %q", bare)
	}
}

func TestClampDecimal(t *testing.T) {
	lo := decimal.Zero
	hi := decimal.NewFromFloat(0.05)

	if got := utils.ClampDecimal(decimal.NewFromFloat(0.2), lo, hi); !got.Equal(hi) {
		t.Fatalf("expected clamp to upper bound, got %s", got)
	}
	if got := utils.ClampDecimal(decimal.NewFromFloat(-1), lo, hi); !got.Equal(lo) {
		t.Fatalf("expected clamp to lower bound, got %s", got)
	}
	mid := decimal.NewFromFloat(0.01)
	if got := utils.ClampDecimal(mid, lo, hi); !got.Equal(mid) {
		t.Fatalf("expected in-range value unchanged, got %s", got)
	}
}

func TestMinMaxDecimal(t *testing.T) {
	a, b := decimal.NewFromInt(1), decimal.NewFromInt(2)
	if !utils.MinDecimal(a, b).Equal(a) {
		t.Fatal("expected MinDecimal to return the smaller value")
	}
	if !utils.MaxDecimal(a, b).Equal(b) {
		t.Fatal("expected MaxDecimal to return the larger value")
	}
}

func TestFormatMoney(t *testing.T) {
	got := utils.FormatMoney(decimal.NewFromFloat(1234.5), "cny")
	if got != "1234.50 CNY" {
		t.Fatalf("unexpected format: %q", got)
	}
}

func TestParseBarDateFormats(t *testing.T) {
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-01-02", "2024/01/02", "20240102"} {
		got, err := utils.ParseBarDate(s)
		if err != nil {
			t.Fatalf("ParseBarDate(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseBarDate(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := utils.ParseBarDate("Jan 2 2024"); err == nil {
		t.Fatal("expected error for unrecognized format")
	}
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	cfg := utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, Multiplier: 2}

	attempts := 0
	_, err := utils.Retry(cfg, func() (int, error) {
		attempts++
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryReturnsFirstSuccess(t *testing.T) {
	cfg := utils.DefaultRetryConfig()
	cfg.InitialDelay = time.Microsecond

	attempts := 0
	got, err := utils.Retry(cfg, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "ok" || attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %q after %d attempts", got, attempts)
	}
}
