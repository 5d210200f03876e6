package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/expense-reconciler/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

func statusChanged() *event.Event {
	return event.NewEvent(event.TypeReimbursementStatusChanged, 7, map[string]interface{}{
		event.KeyNewStatus: "closed",
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("generated names are unique", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeLineItemReconciled, noop)
		d.Subscribe(event.TypeLineItemReconciled, noop)
		d.Subscribe(event.TypeReimbursementStatusChanged, noop)

		handlers := d.ListHandlers(event.TypeLineItemReconciled)
		if len(handlers) != 2 {
			t.Fatalf("expected 2 handlers, got %d", len(handlers))
		}
		if handlers[0].Name == handlers[1].Name {
			t.Errorf("generated names collide: %s", handlers[0].Name)
		}
	})

	t.Run("named registration replaces", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var first, second atomic.Int32

		d.SubscribeNamed(event.TypeReceiptCompleted, "audit-spawner", func(ctx context.Context, evt *event.Event) error {
			first.Add(1)
			return nil
		})
		d.SubscribeNamed(event.TypeReceiptCompleted, "audit-spawner", func(ctx context.Context, evt *event.Event) error {
			second.Add(1)
			return nil
		})

		if err := d.Dispatch(context.Background(), event.ReceiptCompleted(1, 2, "clerk")); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if first.Load() != 0 || second.Load() != 1 {
			t.Errorf("calls = %d/%d, want 0/1", first.Load(), second.Load())
		}
		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})

	t.Run("unsubscribe removes only the named handler", func(t *testing.T) {
		d := NewDispatcher()
		var kept atomic.Int32

		d.SubscribeNamed(event.TypeLineItemReconciled, "a", func(ctx context.Context, evt *event.Event) error {
			t.Error("unsubscribed handler called")
			return nil
		})
		d.SubscribeNamed(event.TypeLineItemReconciled, "b", func(ctx context.Context, evt *event.Event) error {
			kept.Add(1)
			return nil
		})
		d.Unsubscribe(event.TypeLineItemReconciled, "a")

		evt := event.NewEvent(event.TypeLineItemReconciled, 1, nil)
		if err := d.Dispatch(context.Background(), evt); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if kept.Load() != 1 {
			t.Errorf("expected remaining handler to run once, got %d", kept.Load())
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		for i := 1; i <= 3; i++ {
			i := i
			d.Subscribe(event.TypeReimbursementStatusChanged, func(ctx context.Context, evt *event.Event) error {
				order = append(order, i)
				return nil
			})
		}

		if err := d.Dispatch(context.Background(), statusChanged()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if fmt.Sprint(order) != "[1 2 3]" {
			t.Errorf("order = %v", order)
		}
	})

	t.Run("joins handler errors and keeps going", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		errA := errors.New("a failed")
		errB := errors.New("b failed")
		calledLast := false

		d.SubscribeNamed(event.TypeReimbursementStatusChanged, "a", func(ctx context.Context, evt *event.Event) error { return errA })
		d.SubscribeNamed(event.TypeReimbursementStatusChanged, "b", func(ctx context.Context, evt *event.Event) error { return errB })
		d.SubscribeNamed(event.TypeReimbursementStatusChanged, "c", func(ctx context.Context, evt *event.Event) error {
			calledLast = true
			return nil
		})

		err := d.Dispatch(context.Background(), statusChanged())
		if !errors.Is(err, errA) || !errors.Is(err, errB) {
			t.Errorf("error = %v, want both handler errors", err)
		}
		if !calledLast {
			t.Error("expected handlers after a failure to run")
		}
		if logger.ErrorCount() != 2 {
			t.Errorf("logged errors = %d, want 2", logger.ErrorCount())
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeReimbursementStatusChanged, func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		if err := d.Dispatch(context.Background(), statusChanged()); err == nil {
			t.Fatal("expected error from panic recovery")
		}
	})

	t.Run("no handlers", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Dispatch(context.Background(), statusChanged()); err != nil {
			t.Errorf("dispatch with no handlers = %v", err)
		}
	})

	t.Run("closed dispatcher", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), statusChanged()); !errors.Is(err, ErrClosed) {
			t.Errorf("dispatch after close = %v, want ErrClosed", err)
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		for i := 0; i < 2; i++ {
			d.Subscribe(event.TypeLineItemReconciled, func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				called.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeLineItemReconciled, 1, nil))
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 2 {
			t.Errorf("expected 2 handler calls, got %d", called.Load())
		}
	})

	t.Run("caller cancellation does not reach handlers", func(t *testing.T) {
		d := NewDispatcher()
		release := make(chan struct{})
		var handlerErr atomic.Value

		d.Subscribe(event.TypeLineItemReconciled, func(ctx context.Context, evt *event.Event) error {
			<-release
			if err := ctx.Err(); err != nil {
				handlerErr.Store(err)
			}
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, event.NewEvent(event.TypeLineItemReconciled, 1, nil))
		cancel()
		close(release)

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if v := handlerErr.Load(); v != nil {
			t.Errorf("handler saw cancellation: %v", v)
		}
	})

	t.Run("errors and panics are logged", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeLineItemReconciled, func(ctx context.Context, evt *event.Event) error {
			return errors.New("handler error")
		})
		d.Subscribe(event.TypeLineItemReconciled, func(ctx context.Context, evt *event.Event) error {
			panic("async panic")
		})

		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeLineItemReconciled, 1, nil))
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if logger.ErrorCount() < 2 {
			t.Errorf("logged errors = %d, want at least 2", logger.ErrorCount())
		}
	})

	t.Run("dropped after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32
		d.Subscribe(event.TypeLineItemReconciled, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		d.DispatchAsync(context.Background(), event.NewEvent(event.TypeLineItemReconciled, 1, nil))

		if called.Load() != 0 {
			t.Error("expected handler not to be called after close")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected the dropped event to be logged")
		}
	})
}

func TestListHandlers(t *testing.T) {
	d := NewDispatcher()
	d.SubscribeNamed(event.TypeWorkOrderCreated, "notification-observer", noop)

	handlers := d.ListHandlers(event.TypeWorkOrderCreated)
	if len(handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(handlers))
	}
	if handlers[0].Name != "notification-observer" || handlers[0].EventType != event.TypeWorkOrderCreated {
		t.Errorf("handler info = %+v", handlers[0])
	}
	if handlers[0].Handler != nil {
		t.Error("expected handler function not to be exposed")
	}
	if got := d.ListHandlers(event.TypeWorkOrderDestroyed); len(got) != 0 {
		t.Errorf("expected no handlers, got %d", len(got))
	}
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second close = %v, want ErrClosed", err)
	}
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeWorkOrderStatusChanged, func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := len(d.ListHandlers(event.TypeWorkOrderStatusChanged)); got != 10 {
		t.Fatalf("expected 10 handlers, got %d", got)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), event.NewEvent(event.TypeWorkOrderStatusChanged, 1, nil))
		}()
	}
	wg.Wait()

	if called.Load() != 100 {
		t.Errorf("expected 100 handler calls, got %d", called.Load())
	}
}

func TestClose_RacingDispatchAsync(t *testing.T) {
	for round := 0; round < 50; round++ {
		d := NewDispatcher()
		var started, finished atomic.Int32
		d.Subscribe(event.TypeLineItemReconciled, func(ctx context.Context, evt *event.Event) error {
			started.Add(1)
			time.Sleep(time.Millisecond)
			finished.Add(1)
			return nil
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.DispatchAsync(context.Background(), event.NewEvent(event.TypeLineItemReconciled, 1, nil))
			}()
		}

		if err := d.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		// Close returned, so every handler it admitted has finished
		if s, f := started.Load(), finished.Load(); s != f {
			t.Fatalf("round %d: %d handlers started, %d finished when Close returned", round, s, f)
		}
		wg.Wait()

		if s, f := started.Load(), finished.Load(); s != f {
			t.Fatalf("round %d: handler ran after Close: started %d, finished %d", round, s, f)
		}
	}
}
