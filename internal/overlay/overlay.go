// Package overlay draws the behavior label and detection boxes onto JPEG
// frames for the preview window and the dashboard stream.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

// Quality is the JPEG quality of annotated frames.
const Quality = 80

// TextOrigin is the baseline of the behavior caption.
var TextOrigin = image.Pt(10, 30)

var (
	black  = color.RGBA{A: 255}
	white  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	green  = color.RGBA{G: 220, A: 255}
	yellow = color.RGBA{R: 255, G: 220, A: 255}
	red    = color.RGBA{R: 230, G: 30, B: 30, A: 255}
	cyan   = color.RGBA{G: 200, B: 255, A: 255}
)

// LabelColor is the caption color for label.
func LabelColor(label behavior.Label) color.RGBA {
	switch label {
	case behavior.Normal:
		return green
	case behavior.Sleeping:
		return red
	default:
		return yellow
	}
}

// Caption is the text drawn for label.
func Caption(label behavior.Label) string {
	return fmt.Sprintf("Behavior: %s", label)
}

// Annotate decodes jpegData, draws detection boxes and the behavior
// caption, and re-encodes it.
func Annotate(jpegData []byte, label behavior.Label, detections []types.Detection) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, det := range detections {
		r := image.Rect(det.BBox.X, det.BBox.Y, det.BBox.X+det.BBox.W, det.BBox.Y+det.BBox.H)
		drawRect(img, r, cyan, 2)

		text := fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)
		y := r.Min.Y - 4
		if y < 14 {
			y = r.Max.Y + 14
		}
		drawTextWithBackground(img, image.Pt(r.Min.X, y), text, cyan)
	}

	drawTextWithBackground(img, TextOrigin, Caption(label), LabelColor(label))

	return encode(img)
}

// Blank renders a color-bar test card, shown before the first frame.
func Blank(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	bars := []color.RGBA{
		white,
		{R: 255, G: 255, A: 255},
		{G: 255, B: 255, A: 255},
		{G: 255, A: 255},
		{R: 255, B: 255, A: 255},
		{R: 255, A: 255},
		{B: 255, A: 255},
		black,
	}
	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for i, c := range bars {
		x0 := i * barWidth
		x1 := x0 + barWidth
		if i == len(bars)-1 {
			x1 = width
		}
		draw.Draw(img, image.Rect(x0, 0, x1, height), &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
	drawTextWithBackground(img, TextOrigin, "No signal", white)
	return encode(img)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	u := &image.Uniform{C: c}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}

// drawTextWithBackground draws text with its baseline at origin over a
// black band.
func drawTextWithBackground(img *image.RGBA, origin image.Point, text string, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: c},
		Face: face,
		Dot:  fixed.P(origin.X, origin.Y),
	}
	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	band := image.Rect(
		origin.X-2,
		origin.Y-metrics.Ascent.Ceil()-2,
		origin.X+width+2,
		origin.Y+metrics.Descent.Ceil()+2,
	).Intersect(img.Bounds())
	draw.Draw(img, band, &image.Uniform{C: black}, image.Point{}, draw.Src)
	d.DrawString(text)
}
