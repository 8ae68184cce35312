// Package errs provides the typed error model shared by every core
// component: a kind, a code, a string-keyed context bag, and an optional
// wrapped cause.
package errs

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a QuantError. The zero value is the generic root kind.
type Kind string

const (
	KindGeneric    Kind = "GENERIC"
	KindConfig     Kind = "CONFIG"
	KindData       Kind = "DATA"
	KindStrategy   Kind = "STRATEGY"
	KindRisk       Kind = "RISK"
	KindTrade      Kind = "TRADE"
	KindValidation Kind = "VALIDATION"
)

func (k Kind) defaultCode() string {
	if k == "" {
		return string(KindGeneric) + "_ERROR"
	}
	return string(k) + "_ERROR"
}

// QuantError is the error root every core component raises. It is never
// constructed with a zero Kind directly outside this package; use New or
// one of the kind-specific constructors below.
type QuantError struct {
	Kind    Kind
	Message string
	Code    string
	Context map[string]any
	Cause   error
}

// New creates a QuantError of the given kind with the kind's default code.
func New(kind Kind, message string) *QuantError {
	return &QuantError{Kind: kind, Message: message, Code: kind.defaultCode()}
}

// Configf, Dataf, Strategyf, Riskf, Tradef, Validationf build errors of
// their respective kind from a format string.
func Configf(format string, args ...any) *QuantError {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

func Dataf(format string, args ...any) *QuantError {
	return New(KindData, fmt.Sprintf(format, args...))
}

func Strategyf(format string, args ...any) *QuantError {
	return New(KindStrategy, fmt.Sprintf(format, args...))
}

func Riskf(format string, args ...any) *QuantError {
	return New(KindRisk, fmt.Sprintf(format, args...))
}

func Tradef(format string, args ...any) *QuantError {
	return New(KindTrade, fmt.Sprintf(format, args...))
}

func Validationf(format string, args ...any) *QuantError {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// WithCode overrides the default code.
func (e *QuantError) WithCode(code string) *QuantError {
	e.Code = code
	return e
}

// WithContext attaches a context key/value pair, returning the receiver
// for chaining.
func (e *QuantError) WithContext(key string, value any) *QuantError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap builds a new QuantError of the given kind carrying cause, preserving
// errors.Unwrap/errors.Is/errors.As chain semantics.
func Wrap(kind Kind, cause error, message string) *QuantError {
	e := New(kind, message)
	e.Cause = cause
	return e
}

func (e *QuantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		fmt.Fprintf(&b, " | context: %s", strings.Join(parts, ", "))
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, " | cause: %s", causeString(e.Cause))
	}

	return b.String()
}

func causeString(cause error) string {
	if qe, ok := cause.(*QuantError); ok {
		return qe.Error()
	}
	return fmt.Sprintf("%T: %s", cause, cause.Error())
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *QuantError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, errs.KindData) style matching work against a bare
// Kind value stashed in a sentinel QuantError, and lets two QuantErrors of
// the same kind and code compare equal for tests.
func (e *QuantError) Is(target error) bool {
	other, ok := target.(*QuantError)
	if !ok {
		return false
	}
	if other.Message == "" && other.Context == nil && other.Cause == nil {
		return e.Kind == other.Kind
	}
	return e.Kind == other.Kind && e.Code == other.Code
}

// normalizedDataReason classifies a foreign data-adapter error message into
// one of a small set of stable reasons by case-insensitive substring
// matching.
func normalizedDataReason(action, message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "429"), strings.Contains(lower, "too many"), strings.Contains(lower, "rate"):
		return "rate limit"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return "network error"
	case strings.Contains(lower, "no data"), strings.Contains(lower, "empty"):
		return "no data"
	default:
		return action + " failed"
	}
}

// WrapData wraps a foreign data-adapter error into a typed Data error with
// a normalized reason.
func WrapData(action string, cause error) *QuantError {
	reason := normalizedDataReason(action, cause.Error())
	e := Wrap(KindData, cause, reason)
	return e.WithContext("action", action)
}
