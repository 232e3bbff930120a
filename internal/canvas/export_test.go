package canvas

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = core.DrawingLog{
	{Color: "#FF0000", Width: 10, Path: []core.Point{{X: 10, Y: 50}, {X: 190, Y: 50}}},
	{Color: "#0000FF", Width: 8, Path: []core.Point{{X: 100, Y: 80}}},
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"png":  FormatPNG,
		".PNG": FormatPNG,
		"jpg":  FormatJPEG,
		"jpeg": FormatJPEG,
		".pdf": FormatPDF,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("gif")
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", FormatPNG.ContentType())
	assert.Equal(t, "image/jpeg", FormatJPEG.ContentType())
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
}

func TestExportPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatPNG, sample, 200, 100))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())
	assertPixel(t, img, 100, 50, red)
}

func TestExportJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatJPEG, sample, 200, 100))

	img, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestExportPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatPDF, sample, 200, 100))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestThumbnail(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	thumb := Thumbnail(src, 100, 100)
	assert.Equal(t, image.Rect(0, 0, 100, 50), thumb.Bounds())

	small := image.NewRGBA(image.Rect(0, 0, 50, 50))
	assert.Same(t, small, Thumbnail(small, 100, 100).(*image.RGBA))
}

func TestWriteThumbnail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteThumbnail(&buf, sample, 200, 100, 50, 50))

	// cropped to the drawn area, 190x39, before scaling
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.InDelta(t, 50, img.Bounds().Dx(), 1)
	assert.InDelta(t, 10, img.Bounds().Dy(), 1)
}

func TestContentBounds(t *testing.T) {
	assert.Equal(t, image.Rect(5, 45, 195, 84), ContentBounds(sample, 200, 100))
	assert.Equal(t, image.Rect(0, 0, 200, 100), ContentBounds(nil, 200, 100))

	edge := core.DrawingLog{{Color: "#000000", Width: 10, Path: []core.Point{{X: 0, Y: 0}}}}
	assert.Equal(t, image.Rect(0, 0, 5, 5), ContentBounds(edge, 200, 100))
}
