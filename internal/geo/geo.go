package geo

import (
	"image"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// Stroke geometry lives in canvas pixel space. Paths are converted into
// simplefeatures geometries so bounds and lengths come from one place.

// StrokeGeometry converts a stroke path into a point (dots) or a line string.
// A path whose points all coincide is drawn as a dot, so it becomes a point.
func StrokeGeometry(s core.Stroke) geom.Geometry {
	if len(s.Path) == 0 {
		return geom.NewEmptyPoint(geom.DimXY).AsGeometry()
	}
	if len(s.Path) > 1 {
		flat := make([]float64, 0, len(s.Path)*2)
		for _, p := range s.Path {
			flat = append(flat, p.X, p.Y)
		}
		ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
		if err == nil {
			return ls.AsGeometry()
		}
	}
	p := s.Path[0]
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY).AsGeometry()
	}
	return pt.AsGeometry()
}

// Bounds returns the pixel rectangle touched when a stroke is rendered,
// including half the pen width around the path for round caps.
func Bounds(s core.Stroke) image.Rectangle {
	lo, hi, ok := StrokeGeometry(s).Envelope().MinMaxXYs()
	if !ok {
		return image.Rectangle{}
	}
	pad := s.Width / 2
	return image.Rect(
		int(math.Floor(lo.X-pad)),
		int(math.Floor(lo.Y-pad)),
		int(math.Ceil(hi.X+pad)),
		int(math.Ceil(hi.Y+pad)),
	)
}

// LogBounds unions the bounds of every stroke in the log.
func LogBounds(log core.DrawingLog) image.Rectangle {
	var r image.Rectangle
	for _, s := range log {
		r = r.Union(Bounds(s))
	}
	return r
}
