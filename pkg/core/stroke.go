// pkg/core/stroke.go
package core

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"time"
)

// ErrInvalidStroke is returned by Validate for strokes that cannot be rendered.
var ErrInvalidStroke = errors.New("invalid stroke")

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Point is a position in canvas-local coordinates.
type Point struct {
	X float64 `json:"x" cbor:"1,keyasint"`
	Y float64 `json:"y" cbor:"2,keyasint"`
}

// Stroke is one continuous freehand mark. Color is the resolved colour, so
// eraser strokes carry BackgroundColor.
type Stroke struct {
	ID        string    `json:"id,omitempty" cbor:"1,keyasint,omitempty"`
	Author    string    `json:"author,omitempty" cbor:"2,keyasint,omitempty"`
	Color     string    `json:"color" cbor:"3,keyasint"`
	Width     float64   `json:"size" cbor:"4,keyasint"`
	Path      []Point   `json:"path" cbor:"5,keyasint"`
	Seq       uint64    `json:"seq,omitempty" cbor:"6,keyasint,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero" cbor:"7,keyasint"`
}

// Clone returns a copy that shares no memory with s.
func (s Stroke) Clone() Stroke {
	s.Path = slices.Clone(s.Path)
	return s
}

// IsDot reports whether the stroke renders as a single filled dot.
func (s Stroke) IsDot() bool {
	return len(s.Path) < 2
}

// Validate checks the invariants every stored stroke must satisfy.
func (s Stroke) Validate() error {
	if len(s.Path) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidStroke)
	}
	if !(s.Width > 0) || math.IsInf(s.Width, 0) {
		return fmt.Errorf("%w: width %v", ErrInvalidStroke, s.Width)
	}
	if !hexColor.MatchString(s.Color) {
		return fmt.Errorf("%w: color %q", ErrInvalidStroke, s.Color)
	}
	for i, p := range s.Path {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidStroke, i)
		}
	}
	return nil
}

// Equal compares the rendered content of two strokes. ID, Author, Seq and
// CreatedAt are metadata and are compared too, since a log round trip must
// preserve them.
func (s Stroke) Equal(o Stroke) bool {
	return s.ID == o.ID &&
		s.Author == o.Author &&
		s.Color == o.Color &&
		s.Width == o.Width &&
		s.Seq == o.Seq &&
		s.CreatedAt.Equal(o.CreatedAt) &&
		slices.Equal(s.Path, o.Path)
}
