// Package plugin implements the plugin lifecycle manager: registration by
// unique name, dependency-validated topological initialization, reverse-
// order teardown, and a generic hook-calling surface.
package plugin

import (
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
	"github.com/quantcore/backtest/internal/rtctx"
)

// Plugin is the minimal contract every registered plugin satisfies.
// Additional behavior (on_bar, on_order, on_trade, on_error, ...) is
// exposed as optional hook methods that CallHook discovers by name; the
// core contract stays an explicit Go interface.
type Plugin interface {
	Name() string
	Dependencies() []string
	Setup(ctx *rtctx.Context) error
	Teardown(ctx *rtctx.Context) error
}

// Manager owns plugin instances and their lifecycle.
type Manager struct {
	logger *zap.Logger

	order       []string
	plugins     map[string]Plugin
	initialized bool
	initOrder   []string
}

// NewManager creates an empty plugin manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		plugins: make(map[string]Plugin),
	}
}

// Register adds p under its Name(). Duplicate names are rejected.
func (m *Manager) Register(p Plugin) error {
	name := p.Name()
	if _, exists := m.plugins[name]; exists {
		return errs.Validationf("plugin %q already registered", name).WithContext("plugin", name)
	}
	m.plugins[name] = p
	m.order = append(m.order, name)
	return nil
}

// Unregister removes a plugin by name.
func (m *Manager) Unregister(name string) {
	delete(m.plugins, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the plugin registered under name, if any.
func (m *Manager) Get(name string) (Plugin, bool) {
	p, ok := m.plugins[name]
	return p, ok
}

// GetAll returns every registered plugin in registration order.
func (m *Manager) GetAll() []Plugin {
	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

// Has reports whether a plugin is registered under name.
func (m *Manager) Has(name string) bool {
	_, ok := m.plugins[name]
	return ok
}

// Initialize validates dependencies, computes a topological setup order,
// and calls Setup on every plugin in that order. Idempotent: a second call
// after a successful first call is a no-op.
func (m *Manager) Initialize(ctx *rtctx.Context) error {
	if m.initialized {
		return nil
	}

	if err := m.checkDependencies(); err != nil {
		return err
	}
	if err := m.detectCycles(); err != nil {
		return err
	}
	order, err := m.resolveOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := m.plugins[name].Setup(ctx); err != nil {
			return errs.Wrap(errs.KindStrategy, err, "plugin setup failed").WithContext("plugin", name)
		}
		m.logger.Debug("plugin setup complete", zap.String("plugin", name))
	}

	m.initOrder = order
	m.initialized = true
	return nil
}

// Shutdown tears down every plugin in the reverse of its init order.
// Idempotent: a call before a successful Initialize is a no-op. Every
// plugin's Teardown runs even if an earlier one errors; the first error
// encountered is returned after all teardowns have run.
func (m *Manager) Shutdown(ctx *rtctx.Context) error {
	if !m.initialized {
		return nil
	}

	var firstErr error
	for i := len(m.initOrder) - 1; i >= 0; i-- {
		name := m.initOrder[i]
		p, ok := m.plugins[name]
		if !ok {
			continue
		}
		if err := p.Teardown(ctx); err != nil {
			m.logger.Error("plugin teardown failed", zap.String("plugin", name), zap.Error(err))
			if firstErr == nil {
				firstErr = errs.Wrap(errs.KindStrategy, err, "plugin teardown failed").WithContext("plugin", name)
			}
		}
	}

	m.initialized = false
	m.initOrder = nil
	return firstErr
}

func (m *Manager) checkDependencies() error {
	for _, name := range m.order {
		for _, dep := range m.plugins[name].Dependencies() {
			if !m.Has(dep) {
				return errs.Validationf("plugin %q depends on unregistered plugin %q", name, dep).
					WithContext("plugin", name).WithContext("dependency", dep)
			}
		}
	}
	return nil
}

func (m *Manager) detectCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	state := make(map[string]int, len(m.order))

	var visit func(name string) error
	visit = func(name string) error {
		state[name] = grey
		for _, dep := range m.plugins[name].Dependencies() {
			switch state[dep] {
			case grey:
				return errs.Validationf("dependency cycle detected involving plugin %q", name).WithContext("plugin", name)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = black
		return nil
	}

	for _, name := range m.order {
		if state[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveOrder builds the reverse dependency graph (dep -> dependents),
// computes indegree per plugin, and runs Kahn's algorithm, enqueuing
// indegree-0 plugins in registration order for determinism.
func (m *Manager) resolveOrder() ([]string, error) {
	indegree := make(map[string]int, len(m.order))
	dependents := make(map[string][]string, len(m.order))
	for _, name := range m.order {
		indegree[name] = len(m.plugins[name].Dependencies())
		for _, dep := range m.plugins[name].Dependencies() {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	queue := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]string, 0, len(m.order))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(m.order) {
		return nil, errs.Validationf("dependency cycle prevents a complete initialization order")
	}
	return result, nil
}

// hookMethodType is the signature every hook method must satisfy:
// func(args ...any) (any, error).
var hookMethodType = reflect.TypeOf(func(...any) (any, error) { return nil, nil })

// CallHook invokes the method named by the Go-cased form of hookName
// (e.g. "on_bar" -> "OnBar") on every plugin that implements it with the
// signature func(...any) (any, error), in registration order, and
// collects the return values. A plugin missing the method is silently
// skipped; an implementation error propagates immediately (no silent
// swallow).
func (m *Manager) CallHook(hookName string, args ...any) ([]any, error) {
	methodName := pascalCase(hookName)
	results := make([]any, 0, len(m.order))

	for _, name := range m.order {
		p := m.plugins[name]
		method := reflect.ValueOf(p).MethodByName(methodName)
		if !method.IsValid() || method.Type() != hookMethodType {
			continue
		}

		fn := method.Interface().(func(...any) (any, error))
		result, err := fn(args...)
		if err != nil {
			return nil, errs.Wrap(errs.KindStrategy, err, "hook invocation failed").
				WithContext("hook", hookName).WithContext("plugin", name)
		}
		results = append(results, result)
	}

	return results, nil
}

func pascalCase(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
