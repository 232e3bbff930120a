package reconciler

import (
	"bytes"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSurface counts render calls without rasterizing.
type recordingSurface struct {
	fills   int
	strokes []core.Stroke
	segs    int
}

func (s *recordingSurface) Size() (int, int) { return 100, 100 }

func (s *recordingSurface) Fill(string) {
	s.fills++
	s.strokes = nil
}

func (s *recordingSurface) Image() image.Image { return nil }

func (s *recordingSurface) DrawStroke(st core.Stroke) error {
	s.strokes = append(s.strokes, st)
	return nil
}

func (s *recordingSurface) DrawSegment(core.Point, core.Point, string, float64) error {
	s.segs++
	return nil
}

// recordingSink captures side-effect requests.
type recordingSink struct {
	mu        sync.Mutex
	persisted []Change
	broadcast []Change
}

func (s *recordingSink) Persist(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, c)
}

func (s *recordingSink) Broadcast(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = append(s.broadcast, c)
}

func stroke(id string, pts ...core.Point) core.Stroke {
	return core.Stroke{ID: id, Color: "#000000", Width: 5, Path: pts}
}

func TestAppendLocal_ScenarioA(t *testing.T) {
	surf := &recordingSurface{}
	sink := &recordingSink{}
	r := New(surf, WithSink(sink))

	s := stroke("a", core.Point{X: 0, Y: 0}, core.Point{X: 10, Y: 10}, core.Point{X: 20, Y: 5})
	r.AppendLocal(s)

	log := r.Log()
	require.Len(t, log, 1)
	assert.Equal(t, s.Path, log[0].Path)

	// Incremental: one stroke drawn, no background fill.
	assert.Equal(t, 0, surf.fills)
	assert.Len(t, surf.strokes, 1)

	require.Len(t, sink.persisted, 1)
	require.Len(t, sink.broadcast, 1)
	assert.Equal(t, ChangeAppend, sink.persisted[0].Kind)
	assert.True(t, sink.persisted[0].Log.Equal(log))
}

func TestAppendLocal_RejectsInvalid(t *testing.T) {
	sink := &recordingSink{}
	r := New(nil, WithSink(sink))
	r.AppendLocal(core.Stroke{Color: "#000000", Width: 5})

	assert.Empty(t, r.Log())
	assert.Empty(t, sink.persisted)
}

func TestUndoRedo_ScenarioC(t *testing.T) {
	surf := &recordingSurface{}
	sink := &recordingSink{}
	r := New(surf, WithSink(sink))

	s1 := stroke("s1", core.Point{X: 1, Y: 1})
	s2 := stroke("s2", core.Point{X: 2, Y: 2})
	r.AppendLocal(s1)
	r.AppendLocal(s2)

	r.Undo()
	assert.True(t, r.Log().Equal(core.DrawingLog{s1}))
	assert.True(t, core.DrawingLog(r.UndoStack()).Equal(core.DrawingLog{s2}))
	assert.Equal(t, 1, surf.fills, "undo replays the log")

	r.Redo()
	assert.True(t, r.Log().Equal(core.DrawingLog{s1, s2}))
	assert.Empty(t, r.UndoStack())

	kinds := make([]ChangeKind, 0, len(sink.persisted))
	for _, c := range sink.persisted {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []ChangeKind{ChangeAppend, ChangeAppend, ChangeRetract, ChangeAppend}, kinds)
	assert.Equal(t, "s2", sink.persisted[2].Stroke.ID)
}

func TestUndoOnEmptyIsNoop(t *testing.T) {
	sink := &recordingSink{}
	r := New(&recordingSurface{}, WithSink(sink))
	r.Undo()

	assert.Empty(t, r.Log())
	assert.Empty(t, r.UndoStack())
	assert.Empty(t, sink.persisted)
}

func TestRedoOnEmptyIsNoop(t *testing.T) {
	r := New(&recordingSurface{})
	s := stroke("a", core.Point{X: 1, Y: 1})
	r.AppendLocal(s)
	r.Redo()

	assert.True(t, r.Log().Equal(core.DrawingLog{s}))
}

func TestLocalAppendClearsUndo(t *testing.T) {
	r := New(&recordingSurface{})
	r.AppendLocal(stroke("a", core.Point{X: 1, Y: 1}))
	r.Undo()
	require.True(t, r.CanRedo())

	r.AppendLocal(stroke("b", core.Point{X: 2, Y: 2}))
	assert.False(t, r.CanRedo())
}

func TestRemoteAppendClearsUndo(t *testing.T) {
	sink := &recordingSink{}
	r := New(&recordingSurface{}, WithSink(sink))
	r.AppendLocal(stroke("a", core.Point{X: 1, Y: 1}))
	r.Undo()
	require.True(t, r.CanRedo())

	r.AppendRemote(stroke("remote", core.Point{X: 3, Y: 3}))
	assert.False(t, r.CanRedo())
	assert.Len(t, r.Log(), 1)
	// Remote strokes are never re-broadcast.
	assert.Len(t, sink.broadcast, 1)
}

func TestAppendRemote_ScenarioB(t *testing.T) {
	r := New(&recordingSurface{})
	s1 := core.Stroke{ID: "x1", Author: "X", Color: "#FF0000", Width: 2, Path: []core.Point{{X: 5, Y: 5}, {X: 6, Y: 6}}}
	r.AppendRemote(s1)

	assert.True(t, r.Log().Equal(core.DrawingLog{s1}))
}

func TestAppendRemote_IgnoresDuplicateID(t *testing.T) {
	r := New(&recordingSurface{})
	s := stroke("dup", core.Point{X: 1, Y: 1})
	r.AppendRemote(s)
	r.AppendRemote(s)
	assert.Len(t, r.Log(), 1)
}

func TestAppendRemote_RedeliveryKeepsRedo(t *testing.T) {
	r := New(&recordingSurface{})
	remote := stroke("remote", core.Point{X: 1, Y: 1})
	r.AppendRemote(remote)
	r.AppendLocal(stroke("mine", core.Point{X: 2, Y: 2}))
	r.Undo()
	require.True(t, r.CanRedo())

	r.AppendRemote(remote)

	assert.True(t, r.CanRedo())
	assert.Len(t, r.Log(), 1)
}

func TestAppendRemote_ReceiptOrder(t *testing.T) {
	r := New(&recordingSurface{})
	late := stroke("late", core.Point{X: 1, Y: 1})
	late.Seq = 9
	early := stroke("early", core.Point{X: 2, Y: 2})
	early.Seq = 3

	r.AppendRemote(late)
	r.AppendRemote(early)

	log := r.Log()
	assert.Equal(t, "late", log[0].ID)
	assert.Equal(t, "early", log[1].ID)
}

func TestAppendRemote_OrderBySequence(t *testing.T) {
	surf := &recordingSurface{}
	r := New(surf, OrderBySequence())

	local := stroke("local", core.Point{X: 0, Y: 0})
	r.AppendLocal(local)

	s5 := stroke("s5", core.Point{X: 5, Y: 5})
	s5.Seq = 5
	s2 := stroke("s2", core.Point{X: 2, Y: 2})
	s2.Seq = 2
	s7 := stroke("s7", core.Point{X: 7, Y: 7})
	s7.Seq = 7

	r.AppendRemote(s5)
	assert.Equal(t, 0, surf.fills)
	r.AppendRemote(s2)
	assert.Equal(t, 1, surf.fills, "out-of-order insert replays the log")
	r.AppendRemote(s7)

	ids := []string{}
	for _, s := range r.Log() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"local", "s2", "s5", "s7"}, ids)
}

func TestHydrate_ScenarioD(t *testing.T) {
	surf := &recordingSurface{}
	r := New(surf)
	r.AppendLocal(stroke("old", core.Point{X: 9, Y: 9}))
	r.Undo()

	stored := core.DrawingLog{}
	for i := range 5 {
		stored = append(stored, stroke(string(rune('a'+i)), core.Point{X: float64(i), Y: float64(i)}))
	}
	r.Hydrate(stored)

	assert.True(t, r.Log().Equal(stored))
	assert.False(t, r.CanRedo())
	assert.Equal(t, stored, core.DrawingLog(surf.strokes), "all strokes rendered in stored order")
}

func TestHydrate_DropsInvalidStrokes(t *testing.T) {
	r := New(nil)
	r.Hydrate(core.DrawingLog{stroke("ok", core.Point{X: 1, Y: 1}), {Color: "#000000", Width: 5}})
	assert.Len(t, r.Log(), 1)
}

func TestClear(t *testing.T) {
	surf := canvas.NewSurface(50, 50)
	defer surf.Close()
	sink := &recordingSink{}
	r := New(surf, WithSink(sink))

	r.AppendLocal(core.Stroke{ID: "a", Color: "#000000", Width: 20, Path: []core.Point{{X: 25, Y: 25}}})
	r.AppendLocal(core.Stroke{ID: "b", Color: "#FF0000", Width: 20, Path: []core.Point{{X: 10, Y: 10}}})
	r.Undo()
	r.Clear()

	assert.Empty(t, r.Log())
	assert.Empty(t, r.UndoStack())

	img := surf.Image()
	for y := 0; y < 50; y += 5 {
		for x := 0; x < 50; x += 5 {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			require.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{cr, cg, cb}, "pixel (%d,%d)", x, y)
		}
	}

	last := sink.persisted[len(sink.persisted)-1]
	assert.Equal(t, ChangeClear, last.Kind)
	assert.Empty(t, last.Log)
	assert.Equal(t, ChangeClear, sink.broadcast[len(sink.broadcast)-1].Kind)
}

func TestClearRemoteDoesNotEcho(t *testing.T) {
	sink := &recordingSink{}
	r := New(&recordingSurface{}, WithSink(sink))
	r.AppendRemote(stroke("a", core.Point{X: 1, Y: 1}))
	r.ClearRemote()

	assert.Empty(t, r.Log())
	assert.Empty(t, sink.persisted)
	assert.Empty(t, sink.broadcast)
}

func TestEraser_ScenarioE(t *testing.T) {
	r := New(&recordingSurface{})
	black := stroke("black", core.Point{X: 0, Y: 0}, core.Point{X: 50, Y: 0})
	r.AppendLocal(black)

	pen := core.DefaultPen().WithErase(true)
	eraser := core.Stroke{ID: "eraser", Color: pen.StrokeColor(), Width: 20, Path: []core.Point{{X: 25, Y: 0}}}
	r.AppendLocal(eraser)

	log := r.Log()
	require.Len(t, log, 2)
	assert.Equal(t, "black", log[0].ID)
	assert.Equal(t, core.BackgroundColor, log[1].Color)
}

func TestRenderMatchesFold(t *testing.T) {
	surf := canvas.NewSurface(64, 64)
	defer surf.Close()
	r := New(surf)

	log := core.DrawingLog{
		{ID: "1", Color: "#FF0000", Width: 5, Path: []core.Point{{X: 1, Y: 1}, {X: 40, Y: 30}}},
		{ID: "2", Color: "#00FF00", Width: 9, Path: []core.Point{{X: 20, Y: 20}}},
		{ID: "3", Color: "#0000FF", Width: 3, Path: []core.Point{{X: 0, Y: 60}, {X: 64, Y: 0}, {X: 30, Y: 30}}},
	}
	for _, s := range log {
		r.AppendLocal(s)
	}

	folded, err := canvas.Render(log, 64, 64)
	require.NoError(t, err)
	defer folded.Close()

	var got, want bytes.Buffer
	require.NoError(t, png.Encode(&got, surf.Image()))
	require.NoError(t, png.Encode(&want, folded.Image()))
	assert.Equal(t, want.Bytes(), got.Bytes())
}

func TestNilSurfaceIsSilent(t *testing.T) {
	r := New(nil)
	r.AppendLocal(stroke("a", core.Point{X: 1, Y: 1}))
	r.DrawSegment(core.Point{}, core.Point{X: 1, Y: 1}, "#000000", 2)
	r.Undo()
	r.Clear()
	assert.Empty(t, r.Log())

	surf := &recordingSurface{}
	r.AppendLocal(stroke("b", core.Point{X: 2, Y: 2}))
	r.AttachSurface(surf)
	assert.Equal(t, 1, surf.fills)
	assert.Len(t, surf.strokes, 1)
}

func TestHistoryCallback(t *testing.T) {
	type state struct{ undo, redo bool }
	var got []state
	r := New(&recordingSurface{}, OnHistoryChange(func(u, rd bool) {
		got = append(got, state{u, rd})
	}))

	r.AppendLocal(stroke("a", core.Point{X: 1, Y: 1}))
	r.Undo()
	r.Redo()
	r.Clear()

	assert.Equal(t, []state{{true, false}, {false, true}, {true, false}, {false, false}}, got)
}

func TestHistoryCallbackMayReenter(t *testing.T) {
	var r *Reconciler
	calls := 0
	r = New(&recordingSurface{}, OnHistoryChange(func(bool, bool) {
		calls++
		_ = r.CanUndo()
	}))
	r.AppendLocal(stroke("a", core.Point{X: 1, Y: 1}))
	assert.Equal(t, 1, calls)
}

func TestDamage(t *testing.T) {
	var rects []image.Rectangle
	r := New(&recordingSurface{}, OnDamage(func(rect image.Rectangle) { rects = append(rects, rect) }))

	r.AppendLocal(core.Stroke{ID: "a", Color: "#000000", Width: 4, Path: []core.Point{{X: 10, Y: 10}, {X: 20, Y: 20}}})
	r.Undo()

	require.Len(t, rects, 2)
	assert.Equal(t, image.Rect(8, 8, 22, 22), rects[0])
	assert.Equal(t, image.Rect(0, 0, 100, 100), rects[1])
}

func TestControllerInterface(t *testing.T) {
	var c Controller = New(&recordingSurface{})
	assert.False(t, c.CanUndo())
	assert.False(t, c.CanRedo())
}
