// Package capture turns pointer interactions on the local canvas into
// completed strokes.
package capture

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// Painter receives live segment feedback and finished strokes. The canvas
// reconciler implements it.
type Painter interface {
	DrawSegment(from, to core.Point, color string, width float64)
	AppendLocal(s core.Stroke)
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrigin sets the canvas top-left in viewport coordinates.
func WithOrigin(origin core.Point) Option {
	return func(e *Engine) { e.origin = origin }
}

// WithPen sets the initial pen. An invalid pen leaves the default in place.
func WithPen(p core.Pen) Option {
	return func(e *Engine) {
		if p.Validate() == nil {
			e.pen = p
		}
	}
}

// WithIDs overrides stroke ID generation.
func WithIDs(next func() string) Option {
	return func(e *Engine) { e.newID = next }
}

// WithClock overrides the stroke creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type interaction struct {
	pointer int
	stroke  core.Stroke
}

// Engine tracks at most one active pointer interaction. Input from any other
// pointer is ignored until the active one is released.
type Engine struct {
	mu      sync.Mutex
	painter Painter
	author  string
	pen     core.Pen
	origin  core.Point
	active  *interaction

	newID func() string
	now   func() time.Time
}

// New creates an engine that attributes strokes to author.
func New(painter Painter, author string, opts ...Option) *Engine {
	e := &Engine{
		painter: painter,
		author:  author,
		pen:     core.DefaultPen(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPen changes the pen for the next stroke. An active stroke keeps the
// attributes it started with. An invalid pen is rejected and the current
// one kept, so every stroke the engine starts can be appended.
func (e *Engine) SetPen(p core.Pen) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pen = p
	return nil
}

// Pen returns the current pen.
func (e *Engine) Pen() core.Pen {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pen
}

// SetOrigin updates the canvas top-left after a layout change.
func (e *Engine) SetOrigin(origin core.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.origin = origin
}

// Active reports whether an interaction is in progress.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

func (e *Engine) local(viewport core.Point) core.Point {
	return core.Point{X: viewport.X - e.origin.X, Y: viewport.Y - e.origin.Y}
}

func finite(p core.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Press starts a stroke at a viewport position. It reports false when
// another pointer is already drawing or the position is not finite.
func (e *Engine) Press(pointer int, viewport core.Point) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil || !finite(e.local(viewport)) {
		return false
	}
	e.active = &interaction{
		pointer: pointer,
		stroke: core.Stroke{
			ID:        e.newID(),
			Author:    e.author,
			Color:     e.pen.StrokeColor(),
			Width:     e.pen.Width,
			Path:      []core.Point{e.local(viewport)},
			CreatedAt: e.now().UTC(),
		},
	}
	return true
}

// Move extends the active stroke and paints the new segment immediately.
// Moves from other pointers, with no active stroke or to a non-finite
// position are ignored.
func (e *Engine) Move(pointer int, viewport core.Point) bool {
	e.mu.Lock()
	cur := e.local(viewport)
	if e.active == nil || e.active.pointer != pointer || !finite(cur) {
		e.mu.Unlock()
		return false
	}
	s := &e.active.stroke
	prev := s.Path[len(s.Path)-1]
	s.Path = append(s.Path, cur)
	color, width := s.Color, s.Width
	e.mu.Unlock()

	e.painter.DrawSegment(prev, cur, color, width)
	return true
}

// Release finishes the active stroke and hands it to the painter. Exactly
// one stroke is emitted per interaction, a tap yields a one-point stroke.
func (e *Engine) Release(pointer int) (core.Stroke, bool) {
	e.mu.Lock()
	if e.active == nil || e.active.pointer != pointer {
		e.mu.Unlock()
		return core.Stroke{}, false
	}
	s := e.active.stroke.Clone()
	e.active = nil
	e.mu.Unlock()

	e.painter.AppendLocal(s)
	return s.Clone(), true
}

// Cancel abandons the active interaction without emitting a stroke.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = nil
}
