package events_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/events"
)

func TestPriorityOrdering(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	bus.Start()
	defer bus.Stop()

	var order []string
	bus.Register(events.TypeBar, func(events.Event) (*events.Event, error) {
		order = append(order, "A")
		return nil, nil
	}, 10)
	bus.Register(events.TypeBar, func(events.Event) (*events.Event, error) {
		order = append(order, "B")
		return nil, nil
	}, 1)

	if err := bus.Put(events.New(events.TypeBar, nil, "test")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected [A B], got %v", order)
	}
}

func TestErrorIsolation(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	bus.Start()
	defer bus.Stop()

	ran := 0
	bus.Register(events.TypeBar, func(events.Event) (*events.Event, error) {
		ran++
		return nil, errors.New("boom")
	}, 2)
	bus.Register(events.TypeBar, func(events.Event) (*events.Event, error) {
		ran++
		return nil, nil
	}, 1)

	bus.Put(events.New(events.TypeBar, nil, "test"))

	stats := bus.GetStats()
	if ran != 2 {
		t.Fatalf("expected both handlers to run, ran=%d", ran)
	}
	if stats.ErrorCount != 1 {
		t.Fatalf("expected errorCount=1, got %d", stats.ErrorCount)
	}
}

func TestDroppedWhenStopped(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	bus.Put(events.New(events.TypeBar, nil, "test"))

	stats := bus.GetStats()
	if stats.DroppedCount != 1 {
		t.Fatalf("expected droppedCount=1, got %d", stats.DroppedCount)
	}
}

func TestMiddlewareDrop(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	bus.Start()
	defer bus.Stop()

	called := false
	bus.Use(func(ev events.Event) (events.Event, bool, error) {
		return ev, true, nil
	})
	bus.Register(events.TypeBar, func(events.Event) (*events.Event, error) {
		called = true
		return nil, nil
	}, 0)

	bus.Put(events.New(events.TypeBar, nil, "test"))
	if called {
		t.Fatal("handler should not run when middleware drops the event")
	}
}

func TestRecursiveRedispatch(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	bus.Start()
	defer bus.Stop()

	var seen []events.Type
	bus.Register(events.TypeBar, func(ev events.Event) (*events.Event, error) {
		seen = append(seen, ev.Type)
		next := events.New(events.TypeSignal, nil, "test")
		return &next, nil
	}, 0)
	bus.Register(events.TypeSignal, func(ev events.Event) (*events.Event, error) {
		seen = append(seen, ev.Type)
		return nil, nil
	}, 0)

	bus.Put(events.New(events.TypeBar, nil, "test"))

	if len(seen) != 2 || seen[0] != events.TypeBar || seen[1] != events.TypeSignal {
		t.Fatalf("expected [BAR SIGNAL], got %v", seen)
	}
}

func TestRegisterRejectsNilHandlerAndMiddleware(t *testing.T) {
	bus := events.NewBus(zap.NewNop())

	if err := bus.Register(events.TypeBar, nil, 0); err == nil {
		t.Fatal("expected error registering a nil handler")
	}
	if err := bus.Use(nil); err == nil {
		t.Fatal("expected error registering a nil middleware")
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	bus.Start()
	defer bus.Stop()

	called := false
	handler := func(events.Event) (*events.Event, error) {
		called = true
		return nil, nil
	}
	bus.Register(events.TypeBar, handler, 0)
	if !bus.Unregister(events.TypeBar, handler) {
		t.Fatal("expected unregister to report removal")
	}

	bus.Put(events.New(events.TypeBar, nil, "test"))
	if called {
		t.Fatal("unregistered handler should not run")
	}
}
