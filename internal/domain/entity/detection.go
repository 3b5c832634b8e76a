package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// BoundingBox is a detection rectangle in output-raster pixel coordinates.
// It is serialized as [x, y, width, height].
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.Width, b.Height})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(v) != 4 {
		return fmt.Errorf("bbox: expected 4 values, got %d", len(v))
	}
	*b = BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return nil
}

type Detection struct {
	Label      string      `json:"class"`
	Box        BoundingBox `json:"bbox"`
	Confidence float64     `json:"score"`
}

// DetectionLogEntry records what the detector found on one sample.
type DetectionLogEntry struct {
	FrameIndex       int         `json:"frame"`
	TimestampSeconds float64     `json:"time"`
	Detections       []Detection `json:"predictions"`
}

func (e DetectionLogEntry) MarshalJSON() ([]byte, error) {
	type alias DetectionLogEntry
	a := alias(e)
	if a.Detections == nil {
		a.Detections = []Detection{}
	}
	return json.Marshal(a)
}

type ClipMetadata struct {
	DurationSeconds    float64  `json:"length"`
	Resolution         string   `json:"resolution"`
	DistinctLabelCount int      `json:"numObjects"`
	Labels             []string `json:"classes"`
}

type StoredRecord struct {
	ID        int64               `json:"id"`
	ClipData  []byte              `json:"-"`
	Log       []DetectionLogEntry `json:"log"`
	Metadata  ClipMetadata        `json:"meta"`
	CreatedAt time.Time           `json:"timestamp"`
}

// RecordSummary is a StoredRecord without its clip, for listings.
type RecordSummary struct {
	ID        int64        `json:"id"`
	Metadata  ClipMetadata `json:"meta"`
	ClipSize  int64        `json:"clip_size"`
	Frames    int          `json:"frames"`
	CreatedAt time.Time    `json:"timestamp"`
}

func (r StoredRecord) Summary() RecordSummary {
	return RecordSummary{
		ID:        r.ID,
		Metadata:  r.Metadata,
		ClipSize:  int64(len(r.ClipData)),
		Frames:    len(r.Log),
		CreatedAt: r.CreatedAt,
	}
}

// LabelSet keeps distinct labels in first-seen order.
type LabelSet struct {
	seen   map[string]struct{}
	labels []string
}

func NewLabelSet() *LabelSet {
	return &LabelSet{seen: make(map[string]struct{})}
}

func (s *LabelSet) Add(label string) {
	if _, ok := s.seen[label]; ok {
		return
	}
	s.seen[label] = struct{}{}
	s.labels = append(s.labels, label)
}

func (s *LabelSet) Len() int { return len(s.labels) }

func (s *LabelSet) Labels() []string {
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

// LabelsOf returns the distinct labels appearing anywhere in log.
func LabelsOf(log []DetectionLogEntry) []string {
	set := NewLabelSet()
	for _, entry := range log {
		for _, d := range entry.Detections {
			set.Add(d.Label)
		}
	}
	return set.Labels()
}

func NewClipMetadata(duration float64, width, height int, labels *LabelSet) ClipMetadata {
	return ClipMetadata{
		DurationSeconds:    duration,
		Resolution:         FormatResolution(width, height),
		DistinctLabelCount: labels.Len(),
		Labels:             labels.Labels(),
	}
}

// FormatDuration renders seconds as mm:ss, empty for a zero length.
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
