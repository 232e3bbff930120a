package canvas

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/gogpu/gg"
	"github.com/jung-kurt/gofpdf"
	"github.com/sketchroom/whiteboard/internal/geo"
	"github.com/sketchroom/whiteboard/pkg/core"
	xdraw "golang.org/x/image/draw"
)

// Format is an export file format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
	FormatPDF  Format = "pdf"
)

// JPEGQuality matches the 0.95 quality factor used by the browser export.
const JPEGQuality = 95

// ParseFormat accepts a file extension with or without the leading dot.
func ParseFormat(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", ext)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPDF:
		return "application/pdf"
	default:
		return "image/png"
	}
}

// Export renders the log at the given size and writes it in the requested
// format.
func Export(w io.Writer, format Format, log core.DrawingLog, width, height int) error {
	if format == FormatPDF {
		return WritePDF(w, log, width, height)
	}

	s, err := Render(log, width, height)
	defer s.Close()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	switch format {
	case FormatPNG:
		return s.EncodePNG(w)
	case FormatJPEG:
		return s.EncodeJPEG(w, JPEGQuality)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Thumbnail scales img down to fit within maxW x maxH, keeping the aspect
// ratio. Images that already fit are returned unchanged.
func Thumbnail(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return img
	}
	scale := min(float64(maxW)/float64(b.Dx()), float64(maxH)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// ContentBounds returns the part of a width x height canvas the log draws
// on. An empty log yields the whole canvas.
func ContentBounds(log core.DrawingLog, width, height int) image.Rectangle {
	full := image.Rect(0, 0, width, height)
	r := geo.LogBounds(log).Intersect(full)
	if r.Empty() {
		return full
	}
	return r
}

// WriteThumbnail renders the log, crops it to the drawn area and writes a
// scaled PNG preview.
func WriteThumbnail(w io.Writer, log core.DrawingLog, width, height, maxW, maxH int) error {
	s, err := Render(log, width, height)
	defer s.Close()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	crop := ContentBounds(log, width, height)
	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	xdraw.Copy(dst, image.Point{}, s.Image(), crop, xdraw.Src, nil)
	thumb := gg.NewContextForImage(Thumbnail(dst, maxW, maxH))
	defer thumb.Close()
	return thumb.EncodePNG(w)
}

// WritePDF redraws the log as vector paths on a single page sized to the
// canvas, one point per pixel.
func WritePDF(w io.Writer, log core.DrawingLog, width, height int) error {
	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(width), Ht: float64(height)},
	})
	p.SetAutoPageBreak(false, 0)
	p.SetMargins(0, 0, 0)
	p.AddPage()

	bg := rgb8(core.BackgroundColor)
	p.SetFillColor(bg[0], bg[1], bg[2])
	p.Rect(0, 0, float64(width), float64(height), "F")

	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")
	for _, st := range log {
		c := rgb8(st.Color)
		p.SetDrawColor(c[0], c[1], c[2])
		p.SetFillColor(c[0], c[1], c[2])
		p.SetLineWidth(st.Width)
		if st.IsDot() {
			if len(st.Path) == 1 {
				p.Circle(st.Path[0].X, st.Path[0].Y, st.Width/2, "F")
			}
			continue
		}
		p.MoveTo(st.Path[0].X, st.Path[0].Y)
		for _, pt := range st.Path[1:] {
			p.LineTo(pt.X, pt.Y)
		}
		p.DrawPath("D")
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func rgb8(hex string) [3]int {
	r, g, b, _ := gg.Hex(hex).Color().RGBA()
	return [3]int{int(r >> 8), int(g >> 8), int(b >> 8)}
}
