package annotator

import (
	"image"
	"testing"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
)

func TestDrawDetectionOutlinesBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 60))
	DrawDetection(img, entity.Detection{
		Label: "cat",
		Box:   entity.BoundingBox{X: 10, Y: 20, Width: 40, Height: 30},
	})

	assert.Equal(t, BoxColor, img.RGBAAt(10, 20))
	assert.Equal(t, BoxColor, img.RGBAAt(11, 35))
	assert.Equal(t, BoxColor, img.RGBAAt(49, 49))
	assert.Equal(t, BoxColor, img.RGBAAt(30, 48))
	// interior stays untouched
	assert.Zero(t, img.RGBAAt(30, 35).A)
}

func TestDrawDetectionClipsBoxToSurface(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	assert.NotPanics(t, func() {
		DrawDetection(img, entity.Detection{
			Label: "truck",
			Box:   entity.BoundingBox{X: -20, Y: 30, Width: 200, Height: 200},
		})
	})
	assert.Equal(t, BoxColor, img.RGBAAt(0, 40))
}

func TestLabelOrigin(t *testing.T) {
	bounds := image.Rect(0, 0, 256, 144)

	x, y := labelOrigin(bounds, "person", 40, 60)
	assert.Equal(t, 40, x)
	assert.Equal(t, 55, y)

	// boxes near the top edge put the label at baseline 10 or lower
	_, y = labelOrigin(bounds, "person", 40, 4)
	assert.GreaterOrEqual(t, y, 10)

	// text never runs past the right edge
	x, _ = labelOrigin(bounds, "traffic light", 250, 60)
	assert.LessOrEqual(t, x+13*7, 256)

	_, y = labelOrigin(bounds, "dog", 10, 400)
	assert.LessOrEqual(t, y, 144)
}
