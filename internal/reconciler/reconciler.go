// Package reconciler owns a room's drawing log and undo history, renders
// them onto a canvas surface and merges local and remote edits.
package reconciler

import (
	"image"
	"log/slog"
	"sync"

	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/internal/geo"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// ChangeKind identifies what a local edit did to the log.
type ChangeKind int

const (
	ChangeAppend ChangeKind = iota
	ChangeRetract
	ChangeClear
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAppend:
		return "append"
	case ChangeRetract:
		return "retract"
	case ChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Change describes one local edit. Log is a snapshot of the whole log after
// the edit; Stroke is the appended or retracted stroke.
type Change struct {
	Kind   ChangeKind
	Stroke core.Stroke
	Log    core.DrawingLog
}

// Sink receives the side effects of local edits. Implementations must not
// block: they are called while the reconciler holds its lock so that side
// effects are observed in edit order.
type Sink interface {
	// Persist requests a durable write of the change.
	Persist(c Change)
	// Broadcast requests delivery of the change to the other participants.
	Broadcast(c Change)
}

// Controller is the handle a toolbar uses to drive history actions.
type Controller interface {
	Undo()
	Redo()
	Clear()
	CanUndo() bool
	CanRedo() bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSink routes persistence and broadcast requests.
func WithSink(s Sink) Option {
	return func(r *Reconciler) { r.sink = s }
}

// WithLogger sets the logger used for render failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// OrderBySequence inserts sequenced remote strokes by their relay sequence
// number instead of appending them in receipt order.
func OrderBySequence() Option {
	return func(r *Reconciler) { r.orderBySeq = true }
}

// OnHistoryChange registers a callback fired whenever undo or redo
// availability may have changed.
func OnHistoryChange(fn func(canUndo, canRedo bool)) Option {
	return func(r *Reconciler) { r.onHistory = fn }
}

// OnDamage registers a callback receiving the surface region repainted by
// each render.
func OnDamage(fn func(image.Rectangle)) Option {
	return func(r *Reconciler) { r.onDamage = fn }
}

// Reconciler is safe for concurrent use. All mutations and renders are
// serialized by one mutex.
type Reconciler struct {
	mu      sync.Mutex
	log     core.DrawingLog
	undo    []core.Stroke
	surface canvas.Surface

	sink       Sink
	logger     *slog.Logger
	orderBySeq bool
	onHistory  func(canUndo, canRedo bool)
	onDamage   func(image.Rectangle)
}

var _ Controller = (*Reconciler)(nil)

// New creates a reconciler with an empty log. surface may be nil until the
// canvas is mounted; renders are skipped while it is.
func New(surface canvas.Surface, opts ...Option) *Reconciler {
	r := &Reconciler{
		log:     core.DrawingLog{},
		surface: surface,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachSurface swaps the render target and repaints the full log onto it.
func (r *Reconciler) AttachSurface(s canvas.Surface) {
	r.mu.Lock()
	r.surface = s
	damage := r.renderAllLocked()
	r.mu.Unlock()
	r.notify(damage, nil)
}

// Hydrate replaces the log wholesale, drops undo history and repaints.
func (r *Reconciler) Hydrate(log core.DrawingLog) {
	valid, dropped := log.Valid()
	if dropped > 0 {
		r.logger.Warn("dropped invalid strokes on hydrate", "dropped", dropped)
	}

	r.mu.Lock()
	r.log = valid.Clone()
	r.undo = nil
	damage := r.renderAllLocked()
	h := r.historyLocked()
	r.mu.Unlock()

	r.notify(damage, h)
}

// AppendLocal records a stroke finished on this canvas.
func (r *Reconciler) AppendLocal(s core.Stroke) {
	if err := s.Validate(); err != nil {
		r.logger.Warn("discarding local stroke", "error", err)
		return
	}
	s = s.Clone()

	r.mu.Lock()
	r.log = append(r.log, s)
	r.undo = nil
	damage := r.renderStrokeLocked(s)
	h := r.historyLocked()
	if r.sink != nil {
		c := Change{Kind: ChangeAppend, Stroke: s, Log: r.log.Clone()}
		r.sink.Persist(c)
		r.sink.Broadcast(c)
	}
	r.mu.Unlock()

	r.notify(damage, h)
}

// AppendRemote records a stroke received from another participant. Strokes
// whose ID is already present are ignored.
func (r *Reconciler) AppendRemote(s core.Stroke) {
	if err := s.Validate(); err != nil {
		r.logger.Warn("discarding remote stroke", "author", s.Author, "error", err)
		return
	}
	s = s.Clone()

	r.mu.Lock()
	if s.ID != "" && r.containsLocked(s.ID) {
		r.mu.Unlock()
		return
	}

	at := len(r.log)
	if r.orderBySeq && s.Seq > 0 {
		at = r.seqIndexLocked(s.Seq)
	}
	r.log = append(r.log, core.Stroke{})
	copy(r.log[at+1:], r.log[at:])
	r.log[at] = s
	r.undo = nil

	var damage image.Rectangle
	if at == len(r.log)-1 {
		damage = r.renderStrokeLocked(s)
	} else {
		damage = r.renderAllLocked()
	}
	h := r.historyLocked()
	r.mu.Unlock()

	r.notify(damage, h)
}

// Undo moves the tail stroke onto the undo stack. No-op on an empty log.
func (r *Reconciler) Undo() {
	r.mu.Lock()
	tail, ok := r.log.Last()
	if !ok {
		r.mu.Unlock()
		return
	}
	r.log = r.log[:len(r.log)-1]
	r.undo = append(r.undo, tail)
	damage := r.renderAllLocked()
	h := r.historyLocked()
	if r.sink != nil {
		r.sink.Persist(Change{Kind: ChangeRetract, Stroke: tail, Log: r.log.Clone()})
	}
	r.mu.Unlock()

	r.notify(damage, h)
}

// Redo re-appends the most recently undone stroke. No-op on an empty undo
// stack.
func (r *Reconciler) Redo() {
	r.mu.Lock()
	if len(r.undo) == 0 {
		r.mu.Unlock()
		return
	}
	s := r.undo[len(r.undo)-1]
	r.undo = r.undo[:len(r.undo)-1]
	r.log = append(r.log, s)
	damage := r.renderStrokeLocked(s)
	h := r.historyLocked()
	if r.sink != nil {
		c := Change{Kind: ChangeAppend, Stroke: s, Log: r.log.Clone()}
		r.sink.Persist(c)
		r.sink.Broadcast(c)
	}
	r.mu.Unlock()

	r.notify(damage, h)
}

// Clear empties the log and undo stack, repaints the background and requests
// a durable write and broadcast of the clear.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	damage := r.clearLocked()
	h := r.historyLocked()
	if r.sink != nil {
		c := Change{Kind: ChangeClear, Log: core.DrawingLog{}}
		r.sink.Persist(c)
		r.sink.Broadcast(c)
	}
	r.mu.Unlock()

	r.notify(damage, h)
}

// ClearRemote applies a clear received from another participant. Nothing is
// persisted or re-broadcast.
func (r *Reconciler) ClearRemote() {
	r.mu.Lock()
	damage := r.clearLocked()
	h := r.historyLocked()
	r.mu.Unlock()

	r.notify(damage, h)
}

// DrawSegment paints live feedback for an in-progress stroke. The segment is
// not part of the log until the stroke is appended.
func (r *Reconciler) DrawSegment(from, to core.Point, color string, width float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surface == nil {
		return
	}
	if err := r.surface.DrawSegment(from, to, color, width); err != nil {
		r.logger.Warn("segment render failed", "error", err)
	}
}

// Log returns a copy of the current log.
func (r *Reconciler) Log() core.DrawingLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Clone()
}

// UndoStack returns a copy of the undo stack, bottom first.
func (r *Reconciler) UndoStack() []core.Stroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.DrawingLog(r.undo).Clone()
}

// CanUndo reports whether Undo would change the log.
func (r *Reconciler) CanUndo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log) > 0
}

// CanRedo reports whether Redo would change the log.
func (r *Reconciler) CanRedo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.undo) > 0
}

func (r *Reconciler) containsLocked(id string) bool {
	for _, s := range r.log {
		if s.ID == id {
			return true
		}
	}
	return false
}

// seqIndexLocked returns the position before the first sequenced stroke with
// a higher sequence number. Unsequenced strokes never move.
func (r *Reconciler) seqIndexLocked(seq uint64) int {
	for i, s := range r.log {
		if s.Seq > seq {
			return i
		}
	}
	return len(r.log)
}

func (r *Reconciler) clearLocked() image.Rectangle {
	r.log = core.DrawingLog{}
	r.undo = nil
	if r.surface == nil {
		return image.Rectangle{}
	}
	r.surface.Fill(core.BackgroundColor)
	return r.fullRectLocked()
}

func (r *Reconciler) renderAllLocked() image.Rectangle {
	if r.surface == nil {
		return image.Rectangle{}
	}
	if err := canvas.Replay(r.surface, r.log); err != nil {
		r.logger.Warn("full render failed", "error", err)
	}
	return r.fullRectLocked()
}

func (r *Reconciler) renderStrokeLocked(s core.Stroke) image.Rectangle {
	if r.surface == nil {
		return image.Rectangle{}
	}
	if err := r.surface.DrawStroke(s); err != nil {
		r.logger.Warn("stroke render failed", "id", s.ID, "error", err)
	}
	return geo.Bounds(s).Intersect(r.fullRectLocked())
}

func (r *Reconciler) fullRectLocked() image.Rectangle {
	w, h := r.surface.Size()
	return image.Rect(0, 0, w, h)
}

type history struct{ canUndo, canRedo bool }

func (r *Reconciler) historyLocked() *history {
	return &history{canUndo: len(r.log) > 0, canRedo: len(r.undo) > 0}
}

// notify runs callbacks outside the lock so they may call back into r.
func (r *Reconciler) notify(damage image.Rectangle, h *history) {
	if r.onDamage != nil && !damage.Empty() {
		r.onDamage(damage)
	}
	if r.onHistory != nil && h != nil {
		r.onHistory(h.canUndo, h.canRedo)
	}
}
