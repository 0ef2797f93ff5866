package shutdown

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"refinery/internal/pkg/logger"
)

func TestRegister(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	mgr.Register("queue", func(ctx context.Context) error { return nil })

	if len(mgr.handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "queue" {
		t.Errorf("expected handler name 'queue', got %s", mgr.handlers[0].Name)
	}
}

func TestRegisterSimple(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var called bool
	mgr.RegisterSimple("simple", func() { called = true })

	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected simple handler to be called")
	}
}

func TestShutdownRunsInReverseOrder(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var order []string
	for _, name := range []string{"redis", "storage", "worker"} {
		mgr.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"worker", "storage", "redis"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestShutdownReturnsFirstError(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var ran atomic.Int32
	mgr.Register("a", func(ctx context.Context) error {
		ran.Add(1)
		return fmt.Errorf("a failed")
	})
	mgr.Register("b", func(ctx context.Context) error {
		ran.Add(1)
		return fmt.Errorf("b failed")
	})

	err := mgr.Shutdown()
	if err == nil || err.Error() != "b failed" {
		t.Errorf("expected 'b failed', got %v", err)
	}
	if ran.Load() != 2 {
		t.Errorf("expected both handlers to run, got %d", ran.Load())
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var calls atomic.Int32
	mgr.RegisterSimple("once", func() { calls.Add(1) })

	_ = mgr.Shutdown()
	_ = mgr.Shutdown()

	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestContextCanceledBeforeHandlers(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)
	ctx := mgr.Context()

	var canceledFirst bool
	mgr.RegisterSimple("drain", func() {
		canceledFirst = ctx.Err() != nil
	})

	select {
	case <-ctx.Done():
		t.Fatal("expected context to not be canceled initially")
	default:
	}

	_ = mgr.Shutdown()

	if !canceledFirst {
		t.Error("expected context to be canceled before handlers run")
	}
	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
		t.Error("expected done channel to be closed after shutdown")
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.Discard(), 100*time.Millisecond)

	var skipped atomic.Bool
	skipped.Store(true)
	mgr.Register("after", func(ctx context.Context) error {
		skipped.Store(false)
		return nil
	})
	mgr.Register("stuck", func(ctx context.Context) error {
		time.Sleep(5 * time.Second)
		return nil
	})

	start := time.Now()
	err := mgr.Shutdown()
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("shutdown took too long: %v", elapsed)
	}
	if !skipped.Load() {
		t.Error("expected handler after the deadline to be skipped")
	}
}

func TestWaitWithContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var called atomic.Bool
	mgr.RegisterSimple("x", func() { called.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := mgr.WaitWithContext(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called.Load() {
		t.Error("expected handler to run")
	}
}
