package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are reported on the global meter provider under this scope.
const meterName = "github.com/sketchroom/whiteboard/internal/dispatcher"

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Task is a unit of side-effect work produced by a whiteboard session.
type Task struct {
	Kind      string
	Room      string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes a task and returns a result.
type HandlerFunc func(Task) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Logged adds debug logging to the handler. Failures of buffered handlers
// are logged from the worker goroutine.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes tasks to registered handlers.
type Dispatcher struct {
	logger Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	buffers  map[string]chan Task
	closed   bool
	workers  sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Task),
		logger:   logger,
	}

	m := otel.Meter(meterName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"whiteboard.side_effects.queued",
		metric.WithDescription("Current number of tasks in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for kind, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("kind", kind)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"whiteboard.side_effects.processed",
		metric.WithDescription("Total tasks processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"whiteboard.side_effects.dropped",
		metric.WithDescription("Total tasks dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given task kind with optional configuration.
func (d *Dispatcher) Register(kind string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(kind, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(kind, cfg.bufferSize, handler)
	}

	d.mu.Lock()
	d.handlers[kind] = handler
	d.mu.Unlock()
}

// Dispatch routes a task to its registered handler.
func (d *Dispatcher) Dispatch(t Task) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	h, ok := d.handlers[t.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown task kind: %s", t.Kind)
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	return h(t)
}

// HasHandler returns true if a handler is registered for the kind.
func (d *Dispatcher) HasHandler(kind string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[kind]
	return ok
}

// Close stops accepting tasks and waits until every buffered task has been
// handled or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, buf := range d.buffers {
			close(buf)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining dispatcher: %w", ctx.Err())
	}
}

func (d *Dispatcher) withBuffer(kind string, size int, h HandlerFunc) HandlerFunc {
	buffer := make(chan Task, size)

	d.mu.Lock()
	d.buffers[kind] = buffer
	d.mu.Unlock()

	kindAttr := attribute.String("kind", kind)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for t := range buffer {
			h(t)
			d.processed.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
		}
	}()

	// Callers hold d.mu for reading, so Close cannot close buffer underneath a send.
	return func(t Task) (any, error) {
		select {
		case buffer <- t:
			return "queued", nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
			return nil, fmt.Errorf("queue full: %s", kind)
		}
	}
}

func (d *Dispatcher) withLogging(kind string, h HandlerFunc) HandlerFunc {
	return func(t Task) (any, error) {
		start := time.Now()
		d.logger.Debug("handling task", "kind", kind, "room", t.Room)

		result, err := h(t)

		if err != nil {
			d.logger.Error("task failed", "kind", kind, "room", t.Room, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("task complete", "kind", kind, "room", t.Room, "duration", time.Since(start))
		}

		return result, err
	}
}
