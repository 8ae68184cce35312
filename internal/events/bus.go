// Package events implements the synchronous priority event bus: an ordered
// handler list per event type, a middleware chain, and error-isolated
// dispatch with bounded recursive re-dispatch.
package events

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
)

// Type is drawn from a closed enumeration of event kinds.
type Type string

const (
	TypeBar           Type = "BAR"
	TypeTick          Type = "TICK"
	TypeQuote         Type = "QUOTE"
	TypeOrder         Type = "ORDER"
	TypeTrade         Type = "TRADE"
	TypePosition      Type = "POSITION"
	TypeSignal        Type = "SIGNAL"
	TypeRisk          Type = "RISK"
	TypeLog           Type = "LOG"
	TypeError         Type = "ERROR"
	TypeStart         Type = "START"
	TypeStop          Type = "STOP"
	TypeHeartbeat     Type = "HEARTBEAT"
	TypeStrategyInit  Type = "STRATEGY_INIT"
	TypeStrategyStop  Type = "STRATEGY_STOP"
	TypeRiskCheck     Type = "RISK_CHECK"
	TypeRiskTrigger   Type = "RISK_TRIGGER"
)

// Event is the unit of dispatch. Payload is a free-form attribute bag;
// Source identifies the originating component and is optional.
type Event struct {
	ID        string
	Type      Type
	Payload   map[string]any
	Source    string
	Timestamp time.Time
}

// New builds an Event stamped with a fresh ID and the current time.
func New(eventType Type, payload map[string]any, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// Handler observes one event type. Returning a non-nil Event distinct from
// the one it received causes that event to be recursively re-dispatched.
type Handler func(Event) (*Event, error)

// Middleware runs on every event before handler dispatch. Returning
// drop=true halts propagation for that Put call. A non-nil err is counted
// and logged but does not halt propagation; in that case the event
// continues unchanged (the returned Event is ignored).
type Middleware func(Event) (next Event, drop bool, err error)

// HandlerInfo pairs a handler with its dispatch priority.
type HandlerInfo struct {
	Handler  Handler
	Priority int
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	Running      bool
	EventCount   uint64
	ErrorCount   uint64
	DroppedCount uint64
	Handlers     map[Type]int
	Middlewares  int
}

// MaxRedispatchDepth bounds recursive re-dispatch triggered by handlers
// that return a new event. Exceeding it is a Validation-kind failure
// rather than unbounded recursion.
const MaxRedispatchDepth = 64

// Bus is the synchronous, single-threaded event dispatcher.
type Bus struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	running     bool
	handlers    map[Type][]HandlerInfo
	middlewares []Middleware

	eventCount   uint64
	errorCount   uint64
	droppedCount uint64
}

// NewBus creates a stopped bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[Type][]HandlerInfo),
	}
}

// Start transitions the bus to running, resets counters, and emits a
// synthetic START event.
func (b *Bus) Start() {
	b.mu.Lock()
	b.running = true
	atomic.StoreUint64(&b.eventCount, 0)
	atomic.StoreUint64(&b.errorCount, 0)
	atomic.StoreUint64(&b.droppedCount, 0)
	b.mu.Unlock()

	b.Put(New(TypeStart, nil, "events.Bus"))
}

// Stop emits a synthetic STOP event, then transitions the bus to stopped.
func (b *Bus) Stop() {
	b.Put(New(TypeStop, nil, "events.Bus"))

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// IsRunning reports whether the bus currently accepts events.
func (b *Bus) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Register appends a handler for eventType and re-sorts the handler list
// for that type by descending priority; ties preserve registration order.
// A nil handler is rejected.
func (b *Bus) Register(eventType Type, handler Handler, priority int) error {
	if handler == nil {
		return errs.Validationf("event handler must be non-nil").WithContext("type", string(eventType))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], HandlerInfo{Handler: handler, Priority: priority})
	list := b.handlers[eventType]
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
	return nil
}

// Unregister removes the first handler registered for eventType that is
// identical (by function pointer) to handler, reporting whether anything
// was removed.
func (b *Bus) Unregister(eventType Type, handler Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[eventType]
	target := reflect.ValueOf(handler).Pointer()
	for i, hi := range list {
		if reflect.ValueOf(hi.Handler).Pointer() == target {
			b.handlers[eventType] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Use appends a middleware to the global middleware chain. A nil
// middleware is rejected.
func (b *Bus) Use(mw Middleware) error {
	if mw == nil {
		return errs.Validationf("middleware must be non-nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
	return nil
}

// RegisterHandler and Emit are aliases for Register and Put, for callers
// that prefer the emit-style naming.
func (b *Bus) RegisterHandler(eventType Type, handler Handler, priority int) error {
	return b.Register(eventType, handler, priority)
}

func (b *Bus) Emit(ev Event) error {
	return b.Put(ev)
}

// Put dispatches ev: middleware chain, then priority-ordered handlers,
// with error isolation and bounded recursive re-dispatch.
func (b *Bus) Put(ev Event) error {
	return b.put(ev, 0)
}

func (b *Bus) put(ev Event, depth int) error {
	if depth > MaxRedispatchDepth {
		b.logger.Error("event re-dispatch depth exceeded",
			zap.String("type", string(ev.Type)),
			zap.Int("depth", depth),
		)
		return errDepthExceeded(ev.Type)
	}

	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()

	if !running {
		atomic.AddUint64(&b.droppedCount, 1)
		return nil
	}

	atomic.AddUint64(&b.eventCount, 1)

	cur := ev

	b.mu.RLock()
	middlewares := append([]Middleware(nil), b.middlewares...)
	b.mu.RUnlock()

	for _, mw := range middlewares {
		next, drop, err := mw(cur)
		if err != nil {
			atomic.AddUint64(&b.errorCount, 1)
			b.logger.Error("middleware error", zap.Error(err), zap.String("type", string(cur.Type)))
			continue
		}
		if drop {
			return nil
		}
		cur = next
	}

	b.mu.RLock()
	handlers := append([]HandlerInfo(nil), b.handlers[cur.Type]...)
	b.mu.RUnlock()

	for _, hi := range handlers {
		newEv, err := hi.Handler(cur)
		if err != nil {
			atomic.AddUint64(&b.errorCount, 1)
			b.logger.Error("handler error", zap.Error(err), zap.String("type", string(cur.Type)))
			continue
		}
		if newEv != nil && !sameEvent(*newEv, cur) {
			if err := b.put(*newEv, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

func errDepthExceeded(t Type) error {
	return errs.Validationf("event re-dispatch depth exceeded").WithContext("type", string(t)).WithContext("maxDepth", MaxRedispatchDepth)
}

func sameEvent(a, b Event) bool {
	return a.ID == b.ID && a.Type == b.Type && a.Timestamp.Equal(b.Timestamp)
}

// GetStats returns a snapshot of bus activity.
func (b *Bus) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlerCounts := make(map[Type]int, len(b.handlers))
	for t, list := range b.handlers {
		handlerCounts[t] = len(list)
	}

	return Stats{
		Running:      b.running,
		EventCount:   atomic.LoadUint64(&b.eventCount),
		ErrorCount:   atomic.LoadUint64(&b.errorCount),
		DroppedCount: atomic.LoadUint64(&b.droppedCount),
		Handlers:     handlerCounts,
		Middlewares:  len(b.middlewares),
	}
}
