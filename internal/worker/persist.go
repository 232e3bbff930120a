package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sketchroom/whiteboard/internal/reconciler"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"
)

const writeTimeout = 15 * time.Second

// Persist queues a durable write and wakes the writer. It never blocks.
func (m *Manager) Persist(c reconciler.Change) {
	m.pending.Push(c)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the writer goroutine. Changes queued before Start are written
// on the first wake-up or by Close.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.started = true
		go m.run()
	})
}

// Close stops the writer and writes every pending change.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.started {
			<-m.done
		}
	})
	return m.Flush()
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case <-m.wake:
		}
		if m.deps.SaveDebounce > 0 {
			timer := time.NewTimer(m.deps.SaveDebounce)
			select {
			case <-timer.C:
			case <-m.stop:
				timer.Stop()
				return
			}
		}
		if err := m.Flush(); err != nil {
			m.deps.Logger.Error("Durable write failed", "room", m.deps.RoomID, "error", err)
		}
	}
}

// Flush writes every pending change now, in order.
func (m *Manager) Flush() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.write(m.pending.Drain())
}

// write stores changes in order. Event-log gateways receive one event per
// change; snapshot gateways receive the log after the last change. The
// caller holds writeMu.
func (m *Manager) write(changes []reconciler.Change) error {
	if len(changes) == 0 {
		return nil
	}

	roomID := m.deps.RoomID
	ctx, cancel := context.WithTimeout(storage.WithOrigin(context.Background(), m.deps.Origin), writeTimeout)
	defer cancel()

	start := time.Now()
	defer func() { m.lastWrite = time.Since(start) }()

	if el, ok := m.deps.Gateway.(storage.EventLog); ok {
		for _, c := range changes {
			if _, err := el.Append(ctx, roomID, event(c)); err != nil {
				return fmt.Errorf("append %s to room %s: %w", c.Kind, roomID, err)
			}
		}
		return nil
	}

	last := changes[len(changes)-1]
	if err := m.deps.Gateway.Save(ctx, roomID, last.Log); err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

func event(c reconciler.Change) core.LogEvent {
	switch c.Kind {
	case reconciler.ChangeAppend:
		s := c.Stroke.Clone()
		return core.LogEvent{Kind: core.EventStroke, Stroke: &s}
	case reconciler.ChangeRetract:
		return core.LogEvent{Kind: core.EventRetract, StrokeID: c.Stroke.ID}
	default:
		return core.LogEvent{Kind: core.EventClear}
	}
}
