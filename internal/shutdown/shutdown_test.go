package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals length = %d, want 2", len(cfg.Signals))
	}
}

func TestHandler_Register(t *testing.T) {
	h := NewDefault()
	called := false

	h.Register("test", func(ctx context.Context) error {
		called = true
		return nil
	})

	h.Shutdown()
	<-h.Done()

	if !called {
		t.Error("Callback was not called")
	}
}

func TestHandler_RegisterFunc(t *testing.T) {
	h := NewDefault()
	called := false

	h.RegisterFunc("test", func() {
		called = true
	})

	h.Shutdown()
	<-h.Done()

	if !called {
		t.Error("Function was not called")
	}
}

func TestHandler_Context(t *testing.T) {
	h := NewDefault()
	ctx := h.Context()

	select {
	case <-ctx.Done():
		t.Error("Context should not be done initially")
	default:
	}

	h.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Context should be done after shutdown")
	}
}

func TestHandler_IsShuttingDown(t *testing.T) {
	h := NewDefault()

	if h.IsShuttingDown() {
		t.Error("Should not be shutting down initially")
	}

	h.Shutdown()

	if !h.IsShuttingDown() {
		t.Error("Should be shutting down after Shutdown()")
	}
}

func TestHandler_Shutdown_LIFO(t *testing.T) {
	h := NewDefault()
	order := make([]int, 0, 3)

	h.Register("first", func(ctx context.Context) error {
		order = append(order, 1)
		return nil
	})
	h.Register("second", func(ctx context.Context) error {
		order = append(order, 2)
		return nil
	})
	h.Register("third", func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})

	h.Shutdown()
	<-h.Done()

	if len(order) != 3 {
		t.Fatalf("Expected 3 callbacks, got %d", len(order))
	}
	if order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("Order = %v, want [3, 2, 1] (LIFO)", order)
	}
}

func TestHandler_Shutdown_MultipleCallsIdempotent(t *testing.T) {
	h := NewDefault()
	callCount := 0

	h.Register("test", func(ctx context.Context) error {
		callCount++
		return nil
	})

	h.Shutdown()
	h.Shutdown()
	h.Shutdown()

	<-h.Done()

	if callCount != 1 {
		t.Errorf("Callback called %d times, want 1", callCount)
	}
}

func TestHandler_Trigger(t *testing.T) {
	h := NewDefault()

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Trigger()
	}()

	h.Wait()

	if !h.IsShuttingDown() {
		t.Error("Should be shutting down after Trigger()")
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := New(Config{
		Timeout: 50 * time.Millisecond,
	})

	h.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	h.Shutdown()
	<-h.Done()
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Errorf("Shutdown took %v, should timeout faster", elapsed)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{CallbackName: "test"}

	if err.Error() != "shutdown callback timed out: test" {
		t.Errorf("Error() = %s", err.Error())
	}
}

func TestHandler_Concurrent(t *testing.T) {
	h := NewDefault()
	var callCount atomic.Int64

	for i := 0; i < 10; i++ {
		h.Register("callback", func(ctx context.Context) error {
			callCount.Add(1)
			return nil
		})
	}

	for i := 0; i < 5; i++ {
		go h.Shutdown()
	}

	<-h.Done()

	if callCount.Load() != 10 {
		t.Errorf("CallCount = %d, want 10", callCount.Load())
	}
}
