package canvas

import (
	"fmt"
	"image"
	"io"

	"github.com/gogpu/gg"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// Surface is a raster target strokes are painted on. Implementations are not
// safe for concurrent use; the reconciler serializes access.
type Surface interface {
	Size() (width, height int)
	Fill(color string)
	DrawSegment(from, to core.Point, color string, width float64) error
	DrawStroke(s core.Stroke) error
	Image() image.Image
}

// GGSurface paints onto a software gg context.
type GGSurface struct {
	ctx *gg.Context
}

var _ Surface = (*GGSurface)(nil)

// NewSurface creates a surface of the given size filled with the background
// colour.
func NewSurface(width, height int) *GGSurface {
	s := &GGSurface{ctx: gg.NewContext(width, height)}
	s.Fill(core.BackgroundColor)
	return s
}

// Size returns the surface dimensions in pixels.
func (s *GGSurface) Size() (int, int) {
	return s.ctx.Width(), s.ctx.Height()
}

// Fill paints the whole surface with one colour.
func (s *GGSurface) Fill(color string) {
	s.ctx.ClearWithColor(gg.Hex(color))
}

func (s *GGSurface) pen(color string, width float64) {
	s.ctx.SetHexColor(color)
	s.ctx.SetLineWidth(width)
	s.ctx.SetLineCap(gg.LineCapRound)
	s.ctx.SetLineJoin(gg.LineJoinRound)
}

// DrawSegment strokes a single straight segment. Used for live feedback while
// a pointer is down.
func (s *GGSurface) DrawSegment(from, to core.Point, color string, width float64) error {
	s.pen(color, width)
	s.ctx.MoveTo(from.X, from.Y)
	s.ctx.LineTo(to.X, to.Y)
	if err := s.ctx.Stroke(); err != nil {
		return fmt.Errorf("draw segment: %w", err)
	}
	return nil
}

// DrawStroke paints a whole stroke. Paths with fewer than two points are
// drawn as a filled dot whose diameter is the stroke width.
func (s *GGSurface) DrawStroke(st core.Stroke) error {
	if len(st.Path) == 0 {
		return nil
	}
	s.pen(st.Color, st.Width)
	if st.IsDot() {
		p := st.Path[0]
		s.ctx.DrawCircle(p.X, p.Y, st.Width/2)
		if err := s.ctx.Fill(); err != nil {
			return fmt.Errorf("draw dot: %w", err)
		}
		return nil
	}
	s.ctx.MoveTo(st.Path[0].X, st.Path[0].Y)
	for _, p := range st.Path[1:] {
		s.ctx.LineTo(p.X, p.Y)
	}
	if err := s.ctx.Stroke(); err != nil {
		return fmt.Errorf("draw stroke: %w", err)
	}
	return nil
}

// Image returns the current pixels.
func (s *GGSurface) Image() image.Image {
	return s.ctx.Image()
}

// EncodePNG writes the surface as PNG.
func (s *GGSurface) EncodePNG(w io.Writer) error {
	return s.ctx.EncodePNG(w)
}

// EncodeJPEG writes the surface as JPEG with the given quality (1-100).
func (s *GGSurface) EncodeJPEG(w io.Writer, quality int) error {
	return s.ctx.EncodeJPEG(w, quality)
}

// Close releases the context.
func (s *GGSurface) Close() error {
	return s.ctx.Close()
}

// Replay fills the background and paints every stroke in log order. Painting
// continues past a failing stroke; the first error is returned.
func Replay(s Surface, log core.DrawingLog) error {
	s.Fill(core.BackgroundColor)
	var first error
	for i, st := range log {
		if err := s.DrawStroke(st); err != nil && first == nil {
			first = fmt.Errorf("stroke %d: %w", i, err)
		}
	}
	return first
}

// Render builds a fresh surface and replays the log onto it.
func Render(log core.DrawingLog, width, height int) (*GGSurface, error) {
	s := NewSurface(width, height)
	if err := Replay(s, log); err != nil {
		return s, err
	}
	return s, nil
}
