package errs_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/quantcore/backtest/internal/errs"
)

func TestFormatWithContextAndCause(t *testing.T) {
	cause := errors.New("boom")
	e := errs.Wrap(errs.KindRisk, cause, "order rejected").
		WithContext("symbol", "CB001").
		WithContext("qty", 10)

	got := e.Error()
	if !strings.HasPrefix(got, "[RISK_ERROR] order rejected | context: qty=10, symbol=CB001") {
		t.Fatalf("unexpected format: %s", got)
	}
	if !strings.HasSuffix(got, "cause: *errors.errorString: boom") {
		t.Fatalf("missing cause suffix: %s", got)
	}
}

func TestFormatWithoutContextOrCause(t *testing.T) {
	e := errs.Validationf("quantity must be positive")
	if e.Error() != "[VALIDATION_ERROR] quantity must be positive" {
		t.Fatalf("unexpected format: %s", e.Error())
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("disk full")
	e := errs.Wrap(errs.KindData, cause, "write failed")

	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestWrapDataReasonClassification(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"HTTP 429 too many requests", "rate limit"},
		{"dial tcp: connection timeout", "network error"},
		{"received empty response", "no data"},
		{"unexpected schema", "fetch_bars failed"},
	}

	for _, tc := range cases {
		e := errs.WrapData("fetch_bars", errors.New(tc.message))
		if e.Message != tc.want {
			t.Errorf("message %q: got reason %q, want %q", tc.message, e.Message, tc.want)
		}
	}
}
