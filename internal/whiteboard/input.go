package whiteboard

import (
	"context"

	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/internal/presence"
	"github.com/sketchroom/whiteboard/internal/reconciler"
	"github.com/sketchroom/whiteboard/pkg/core"
)

func (s *Session) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Press starts a stroke. Input is ignored until the session is open.
func (s *Session) Press(pointer int, x, y float64) bool {
	if !s.isOpen() {
		return false
	}
	return s.capture.Press(pointer, core.Point{X: x, Y: y})
}

// Move extends the active stroke and paints the new segment.
func (s *Session) Move(pointer int, x, y float64) bool {
	if !s.isOpen() {
		return false
	}
	return s.capture.Move(pointer, core.Point{X: x, Y: y})
}

// Release finishes the active stroke and appends it to the log.
func (s *Session) Release(pointer int) (core.Stroke, bool) {
	if !s.isOpen() {
		return core.Stroke{}, false
	}
	return s.capture.Release(pointer)
}

// SetPen changes the attributes of the next stroke. Pens whose strokes
// could not be stored are rejected with core.ErrInvalidPen.
func (s *Session) SetPen(p core.Pen) error {
	if !s.isOpen() {
		if err := p.Validate(); err != nil {
			return err
		}
		s.mu.Lock()
		s.cfg.Pen = p
		s.mu.Unlock()
		return nil
	}
	return s.capture.SetPen(p)
}

// Pen returns the current pen.
func (s *Session) Pen() core.Pen {
	if !s.isOpen() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.cfg.Pen
	}
	return s.capture.Pen()
}

// MoveCursor broadcasts the local cursor position in canvas coordinates.
func (s *Session) MoveCursor(ctx context.Context, x, y float64) error {
	if !s.isOpen() {
		return ErrNotOpen
	}
	_, err := s.presence.Move(ctx, x, y)
	return err
}

// Cursors returns the remote cursor indicators.
func (s *Session) Cursors() []presence.Indicator {
	if !s.isOpen() {
		return nil
	}
	return s.presence.Indicators()
}

// Controller returns the history controls, nil before Open.
func (s *Session) Controller() reconciler.Controller {
	if !s.isOpen() {
		return nil
	}
	return s.reconciler
}

// Log returns a copy of the current drawing log.
func (s *Session) Log() core.DrawingLog {
	if !s.isOpen() {
		return core.DrawingLog{}
	}
	return s.reconciler.Log()
}

// UndoStack returns a copy of the local undo stack.
func (s *Session) UndoStack() []core.Stroke {
	if !s.isOpen() {
		return nil
	}
	return s.reconciler.UndoStack()
}

// AttachSurface sets the render target. Before Open the surface is kept for
// the initial hydration.
func (s *Session) AttachSurface(surface canvas.Surface) {
	if !s.isOpen() {
		s.mu.Lock()
		s.deps.Surface = surface
		s.mu.Unlock()
		return
	}
	s.reconciler.AttachSurface(surface)
}
