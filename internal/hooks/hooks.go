// Package hooks implements the hook registry: specification markers with
// first-result/optional semantics, implementation markers with priority,
// and a HookCaller that dispatches registered implementations in
// descending-priority order.
package hooks

import (
	"sort"

	"github.com/quantcore/backtest/internal/errs"
)

// Func is a hook implementation. Arguments and return values are untyped
// because different hook names carry different shapes; callers assert the
// concrete types they expect.
type Func func(args ...any) (any, error)

// SpecOptions configures a hook specification.
type SpecOptions struct {
	FirstResult bool
	Optional    bool
}

// ImplOptions configures one registered implementation.
type ImplOptions struct {
	Priority int
}

type impl struct {
	fn       Func
	priority int
}

// Caller dispatches calls to every implementation registered under one
// hook name, in descending-priority order (ties keep registration order).
type Caller struct {
	name        string
	firstResult bool
	optional    bool
	impls       []impl
}

// NewCaller creates a Caller for hookName with the given spec options.
func NewCaller(hookName string, opts SpecOptions) *Caller {
	return &Caller{
		name:        hookName,
		firstResult: opts.FirstResult,
		optional:    opts.Optional,
	}
}

// Register adds an implementation, re-sorting by descending priority.
// Equal-priority implementations keep their relative registration order.
func (c *Caller) Register(fn Func, opts ImplOptions) {
	c.impls = append(c.impls, impl{fn: fn, priority: opts.Priority})
	sort.SliceStable(c.impls, func(i, j int) bool {
		return c.impls[i].priority > c.impls[j].priority
	})
}

// Call invokes every registered implementation in priority order.
//
// In first-result mode it returns the first non-nil result, or nil if all
// implementations return nil. In all-results mode it returns every
// implementation's result, in call order. With no registered
// implementations: a lookup error if the hook is not optional, otherwise
// nil (first-result mode) or an empty slice (all-results mode).
func (c *Caller) Call(args ...any) (any, error) {
	if len(c.impls) == 0 {
		if !c.optional {
			return nil, errs.Strategyf("no implementation registered for hook %q", c.name).WithContext("hook", c.name)
		}
		if c.firstResult {
			return nil, nil
		}
		return []any{}, nil
	}

	if c.firstResult {
		for _, im := range c.impls {
			result, err := im.fn(args...)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
		}
		return nil, nil
	}

	results := make([]any, 0, len(c.impls))
	for _, im := range c.impls {
		result, err := im.fn(args...)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}
