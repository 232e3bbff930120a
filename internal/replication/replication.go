// Package replication defines the room broadcast channel: fire-and-forget,
// at-most-once delivery of strokes, clears and cursors to the other
// participants of a room, in per-sender order, with no replay.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

// ErrNotSubscribed is returned by sends on a channel that is not subscribed.
var ErrNotSubscribed = errors.New("replication channel not subscribed")

// Channel is one participant's connection to a room.
type Channel interface {
	Subscribe(ctx context.Context) error
	// Unsubscribe detaches every handler. Sends afterwards fail with
	// ErrNotSubscribed.
	Unsubscribe() error

	BroadcastStroke(ctx context.Context, s core.Stroke) error
	BroadcastClear(ctx context.Context) error
	BroadcastCursor(ctx context.Context, pos core.CursorPosition) error

	OnStroke(fn func(core.Stroke))
	OnClear(fn func())
	OnCursor(fn func(core.CursorPosition))
	OnLogChanged(fn func(core.DrawingLog))
}

// Handlers holds the receive callbacks of a channel. Implementations embed
// it and feed received envelopes to Deliver.
type Handlers struct {
	mu         sync.RWMutex
	stroke     func(core.Stroke)
	clear      func()
	cursor     func(core.CursorPosition)
	logChanged func(core.DrawingLog)
}

// OnStroke registers the handler for remote strokes.
func (h *Handlers) OnStroke(fn func(core.Stroke)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stroke = fn
}

// OnClear registers the handler for remote clears.
func (h *Handlers) OnClear(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clear = fn
}

// OnCursor registers the handler for remote cursor moves.
func (h *Handlers) OnCursor(fn func(core.CursorPosition)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursor = fn
}

// OnLogChanged registers the handler for durable log changes made by other
// participants.
func (h *Handlers) OnLogChanged(fn func(core.DrawingLog)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logChanged = fn
}

// Reset detaches every handler.
func (h *Handlers) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stroke, h.clear, h.cursor, h.logChanged = nil, nil, nil, nil
}

// Deliver decodes env and invokes the matching handler once. Envelopes of
// unknown type are ignored.
func (h *Handlers) Deliver(env streaming.Envelope) error {
	h.mu.RLock()
	stroke, clear, cursor, logChanged := h.stroke, h.clear, h.cursor, h.logChanged
	h.mu.RUnlock()

	switch env.Type {
	case streaming.TypeStrokeAdded:
		var p streaming.StrokePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if env.Seq != 0 {
			p.Stroke.Seq = env.Seq
		}
		if err := p.Stroke.Validate(); err != nil {
			return fmt.Errorf("stroke from %s: %w", env.Sender, err)
		}
		if stroke != nil {
			stroke(p.Stroke)
		}
	case streaming.TypeCanvasCleared:
		if clear != nil {
			clear()
		}
	case streaming.TypeCursorMoved:
		var pos core.CursorPosition
		if err := env.Decode(&pos); err != nil {
			return err
		}
		if cursor != nil {
			cursor(pos)
		}
	case streaming.TypeLogChanged:
		var p streaming.LogChangedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.Log == nil {
			p.Log = core.DrawingLog{}
		}
		if logChanged != nil {
			logChanged(p.Log)
		}
	}
	return nil
}

// StrokeEnvelope builds the envelope announcing a finished stroke.
func StrokeEnvelope(s core.Stroke) (streaming.Envelope, error) {
	return streaming.New(streaming.TypeStrokeAdded, streaming.StrokePayload{Stroke: s})
}

// ClearEnvelope builds the envelope announcing a cleared canvas.
func ClearEnvelope() streaming.Envelope {
	return streaming.Envelope{Type: streaming.TypeCanvasCleared}
}

// CursorEnvelope builds the envelope carrying a cursor position.
func CursorEnvelope(pos core.CursorPosition) (streaming.Envelope, error) {
	return streaming.New(streaming.TypeCursorMoved, pos)
}

// LogChangedEnvelope builds the envelope carrying a durable log change.
func LogChangedEnvelope(origin string, log core.DrawingLog) (streaming.Envelope, error) {
	return streaming.New(streaming.TypeLogChanged, streaming.LogChangedPayload{Origin: origin, Log: log})
}
