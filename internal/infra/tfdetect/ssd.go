package tfdetect

import (
	"math"
	"sort"
	"strconv"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
)

// ssdOutput holds the four tensors of the TFLite detection postprocess op:
// boxes as normalized [ymin, xmin, ymax, xmax], class ids, scores and the
// number of valid detections.
type ssdOutput struct {
	boxes   []float32
	classes []float32
	scores  []float32
	count   int
}

func decodeSSD(out ssdOutput, labels []string, width, height int, minScore float64, maxBoxes int) []entity.Detection {
	n := out.count
	if n > len(out.scores) {
		n = len(out.scores)
	}
	if n > len(out.classes) {
		n = len(out.classes)
	}
	if n > len(out.boxes)/4 {
		n = len(out.boxes) / 4
	}

	detections := make([]entity.Detection, 0, n)
	for i := 0; i < n; i++ {
		score := float64(out.scores[i])
		if score < minScore {
			continue
		}

		ymin := clamp01(out.boxes[i*4])
		xmin := clamp01(out.boxes[i*4+1])
		ymax := clamp01(out.boxes[i*4+2])
		xmax := clamp01(out.boxes[i*4+3])
		if xmax <= xmin || ymax <= ymin {
			continue
		}

		x := xmin * float64(width)
		y := ymin * float64(height)
		detections = append(detections, entity.Detection{
			Label: labelFor(labels, int(out.classes[i])),
			Box: entity.BoundingBox{
				X:      x,
				Y:      y,
				Width:  xmax*float64(width) - x,
				Height: ymax*float64(height) - y,
			},
			Confidence: math.Min(score, 1),
		})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	if maxBoxes > 0 && len(detections) > maxBoxes {
		detections = detections[:maxBoxes]
	}
	return detections
}

// labelFor maps a class id to its label. COCO label files for SSD models
// start with a background or "???" entry, so ids index the file directly.
func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) && labels[id] != "" {
		return labels[id]
	}
	return "class_" + strconv.Itoa(id)
}

func clamp01(v float32) float64 {
	return math.Max(0, math.Min(1, float64(v)))
}
