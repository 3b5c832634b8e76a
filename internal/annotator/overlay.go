package annotator

import (
	"image"
	"image/color"
	"math"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	BoxColor  = color.RGBA{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF}
	lineWidth = 2
	labelFace = basicfont.Face7x13
)

// DrawDetection outlines the detection box and writes its label at the
// box's top-left corner.
func DrawDetection(img *image.RGBA, d entity.Detection) {
	b := img.Bounds()
	x0 := int(math.Round(d.Box.X))
	y0 := int(math.Round(d.Box.Y))
	x1 := int(math.Round(d.Box.X + d.Box.Width))
	y1 := int(math.Round(d.Box.Y + d.Box.Height))

	strokeRect(img, image.Rect(x0, y0, x1, y1).Intersect(b), BoxColor)
	drawLabel(img, d.Label, x0, y0)
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	for w := 0; w < lineWidth; w++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, r.Min.Y+w, c)
			img.SetRGBA(x, r.Max.Y-1-w, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.SetRGBA(r.Min.X+w, y, c)
			img.SetRGBA(r.Max.X-1-w, y, c)
		}
	}
}

// labelOrigin returns the text baseline origin for a box at (x, y), kept on
// the surface.
func labelOrigin(bounds image.Rectangle, text string, x, y int) (int, int) {
	baseline := 10
	if y > 10 {
		baseline = y - 5
	}

	width := font.MeasureString(labelFace, text).Ceil()
	if x+width > bounds.Max.X {
		x = bounds.Max.X - width
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}
	if baseline > bounds.Max.Y-labelFace.Descent {
		baseline = bounds.Max.Y - labelFace.Descent
	}
	if baseline < bounds.Min.Y+labelFace.Ascent {
		baseline = bounds.Min.Y + labelFace.Ascent
	}
	return x, baseline
}

func drawLabel(img *image.RGBA, text string, x, y int) {
	if text == "" {
		return
	}
	ox, oy := labelOrigin(img.Bounds(), text, x, y)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(BoxColor),
		Face: labelFace,
		Dot:  fixed.P(ox, oy),
	}
	d.DrawString(text)
}
