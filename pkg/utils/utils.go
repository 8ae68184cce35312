// Package utils provides small numeric, date, ID, and retry helpers
// shared across the backtest core and its adapter-facing edges.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenerateID returns a random hex-encoded ID, optionally prefixed.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	id := hex.EncodeToString(b)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// RoundToDecimalPlaces rounds d to the given number of decimal places.
func RoundToDecimalPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// MinDecimal returns the lesser of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the greater of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal clamps value to [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// FormatMoney renders d with two decimal places and a currency suffix, for
// log lines and the reporting API.
func FormatMoney(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + strings.ToUpper(currency)
}

// ParseBarDate parses a bar's date field in one of the three formats the
// driver's bar aggregation accepts: %Y-%m-%d, %Y/%m/%d, %Y%m%d.
func ParseBarDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// RetryConfig configures exponential-backoff retry for adapter-facing I/O
// (cache writes, data-source calls) — not used by the deterministic core
// replay itself, which never retries.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns sensible defaults: 3 attempts, 100ms initial
// delay doubling up to 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry calls fn until it succeeds or MaxAttempts is exhausted, sleeping
// with exponential backoff between attempts.
func Retry[T any](config RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var err error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == config.MaxAttempts {
			break
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return result, fmt.Errorf("after %d attempts: %w", config.MaxAttempts, err)
}
