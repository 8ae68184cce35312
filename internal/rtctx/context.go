// Package rtctx implements the shared dependency bundle (Context) and its
// scoped current-context stack. The stack is carried through a
// context.Context value rather than a package-level singleton, so it is
// isolated per logical flow: forked flows get their own stack seeded with
// a copy of the parent's current binding, and popping never leaks across
// flows.
package rtctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Context bundles the dependencies every core component needs plus a
// free-form data map for ad-hoc plugin/strategy state.
type Context struct {
	Config      any
	Portfolio   any
	RiskManager any
	EventBus    any
	Logger      *zap.Logger

	mu   sync.RWMutex
	data map[string]any
}

// New builds a Context with an initialized data map.
func New(config, portfolio, riskManager, eventBus any, logger *zap.Logger) *Context {
	return &Context{
		Config:      config,
		Portfolio:   portfolio,
		RiskManager: riskManager,
		EventBus:    eventBus,
		Logger:      logger,
		data:        make(map[string]any),
	}
}

// Get returns the value stored under key, or def if absent.
func (c *Context) Get(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Set stores value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

type stackKey struct{}

type stack struct {
	mu     sync.Mutex
	frames []*Context
}

// EnsureFlow returns a derived context.Context carrying a fresh
// current-context stack, seeded with a copy of the parent flow's current
// binding (if any) so a forked flow inherits what was visible at the fork
// point. The new stack is independent of the parent's from then on: pushes
// and pops on either side never leak to the other. Call this once at the
// root of each independent logical flow (a backtest run, a forked worker).
func EnsureFlow(ctx context.Context) context.Context {
	s := &stack{}
	if parent, ok := ctx.Value(stackKey{}).(*stack); ok {
		parent.mu.Lock()
		if n := len(parent.frames); n > 0 {
			s.frames = []*Context{parent.frames[n-1]}
		}
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, stackKey{}, s)
}

// Enter pushes c onto the flow's current-context stack and returns a
// restore function that pops it. Callers must defer restore() immediately
// so the previous binding is restored on every exit path, including a
// panic unwinding through the deferred call.
func Enter(ctx context.Context, c *Context) func() {
	s, ok := ctx.Value(stackKey{}).(*stack)
	if !ok {
		// No flow stack attached: behave as an isolated one-frame scope
		// rather than panicking, since pushing/popping a single frame is
		// still well-defined without cross-flow visibility.
		s = &stack{}
	}

	s.mu.Lock()
	s.frames = append(s.frames, c)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if n := len(s.frames); n > 0 {
			s.frames = s.frames[:n-1]
		}
		s.mu.Unlock()
	}
}

// Current returns the innermost Context pushed for ctx's flow, or nil
// outside any scope.
func Current(ctx context.Context) *Context {
	s, ok := ctx.Value(stackKey{}).(*stack)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.frames); n > 0 {
		return s.frames[n-1]
	}
	return nil
}
