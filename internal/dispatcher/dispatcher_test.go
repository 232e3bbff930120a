package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	called := false
	d.Register("test", func(task Task) (any, error) {
		called = true
		return "result", nil
	})

	result, err := d.Dispatch(Task{Kind: "test", Room: "r1"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Task{Kind: "unknown"})

	if err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register("buffered", func(task Task) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	// Dispatch 3 events
	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Task{Kind: "buffered"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	// Wait for processing
	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	// Block the handler so queue fills up
	block := make(chan struct{})
	d.Register("full", func(task Task) (any, error) {
		<-block
		return nil, nil
	}, Buffered(2))

	// Fill the queue (2 items) + 1 being processed
	d.Dispatch(Task{Kind: "full"}) // being processed
	d.Dispatch(Task{Kind: "full"}) // queued
	d.Dispatch(Task{Kind: "full"}) // queued

	// This should be dropped
	_, err := d.Dispatch(Task{Kind: "full"})

	if err == nil {
		t.Error("expected error when queue is full")
	}

	close(block)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("logged", func(task Task) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Task{Kind: "logged", Room: "r1"})

	// Give time for logging
	time.Sleep(10 * time.Millisecond)

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("error", func(task Task) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Task{Kind: "error"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if len(msg) >= 5 && msg[:5] == "ERROR" {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("exists", func(task Task) (any, error) { return nil, nil })

	if !d.HasHandler("exists") {
		t.Error("expected handler to exist")
	}

	if d.HasHandler("not-exists") {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register("combined", func(task Task) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Task{Kind: "combined"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	wg.Wait()
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if processed.Load() != 1 {
		t.Errorf("expected 1 processed, got %d", processed.Load())
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_BufferedHandlerErrorIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("save", func(task Task) (any, error) {
		return nil, fmt.Errorf("store unreachable")
	}, Buffered(4), Logged())

	result, err := d.Dispatch(Task{Kind: "save", Room: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	found := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR: task failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected async failure to be logged, got %v", logger.messages)
	}
}

func TestDispatcher_CloseDrainsInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []int
	d.Register("ordered", func(task Task) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.Payload.(int))
		return nil, nil
	}, Buffered(16))

	for i := 0; i < 10; i++ {
		if _, err := d.Dispatch(Task{Kind: "ordered", Payload: i}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 10 {
		t.Fatalf("expected 10 handled, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Errorf("position %d: got %d", i, v)
		}
	}

	if _, err := d.Dispatch(Task{Kind: "ordered", Payload: 11}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestDispatcher_DispatchSetsTimestamp(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got time.Time
	d.Register("stamp", func(task Task) (any, error) {
		got = task.Timestamp
		return nil, nil
	})
	d.Dispatch(Task{Kind: "stamp"})

	if got.IsZero() {
		t.Error("expected timestamp to be set")
	}
}
