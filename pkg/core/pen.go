// pkg/core/pen.go
package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidPen is returned for pens whose strokes could not be stored.
var ErrInvalidPen = errors.New("invalid pen")

const (
	// BackgroundColor is the canvas fill. Eraser strokes are painted in it.
	BackgroundColor = "#FFFFFF"

	DefaultColor = "#000000"
	DefaultWidth = 5.0
)

// Palette lists the preset pen colours offered by the toolbar.
var Palette = []string{"#FF0000", "#00FF00", "#0000FF"}

// Widths lists the preset pen widths offered by the toolbar.
var Widths = []float64{1, 2, 5, 10, 15, 20, 50}

// Pen holds the attributes applied to the next stroke.
type Pen struct {
	Color     string
	Width     float64
	EraseMode bool
}

// DefaultPen is the pen a fresh session starts with.
func DefaultPen() Pen {
	return Pen{Color: DefaultColor, Width: DefaultWidth}
}

// StrokeColor resolves the colour a stroke made with this pen carries.
func (p Pen) StrokeColor() string {
	if p.EraseMode {
		return BackgroundColor
	}
	return strings.ToUpper(p.Color)
}

// Validate checks that strokes drawn with the pen pass Stroke.Validate. The
// drawing colour must be valid even in erase mode, since leaving erase mode
// restores it.
func (p Pen) Validate() error {
	if !(p.Width > 0) || math.IsInf(p.Width, 0) {
		return fmt.Errorf("%w: width %v", ErrInvalidPen, p.Width)
	}
	if !hexColor.MatchString(p.Color) {
		return fmt.Errorf("%w: color %q", ErrInvalidPen, p.Color)
	}
	return nil
}

// WithErase toggles erase mode. The drawing colour is kept so leaving erase
// mode restores it.
func (p Pen) WithErase(on bool) Pen {
	p.EraseMode = on
	return p
}

// WithColor selects a drawing colour and leaves erase mode.
func (p Pen) WithColor(color string) Pen {
	p.Color = color
	p.EraseMode = false
	return p
}

// WithWidth selects a stroke width. Non-positive widths are ignored.
func (p Pen) WithWidth(w float64) Pen {
	if w > 0 {
		p.Width = w
	}
	return p
}
