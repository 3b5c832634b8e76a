package entity

import (
	"fmt"
	"strconv"
	"strings"
)

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string { return FormatResolution(r.Width, r.Height) }

// ResolutionPresets maps the selectable output heights to their 16:9 sizes.
var ResolutionPresets = map[string]Resolution{
	"144": {Width: 256, Height: 144},
	"240": {Width: 426, Height: 240},
	"360": {Width: 640, Height: 360},
	"480": {Width: 854, Height: 480},
	"720": {Width: 1280, Height: 720},
}

// MaxDimension bounds either side of a parsed resolution. Anything larger
// cannot be backed by a raster surface.
const MaxDimension = 8192

// OutputLimits caps what a single request may ask the annotator to produce.
type OutputLimits struct {
	MaxWidth  int
	MaxHeight int
	MaxFPS    int
}

var DefaultOutputLimits = OutputLimits{MaxWidth: 4096, MaxHeight: 4096, MaxFPS: 60}

// Check rejects a size or sample rate outside the limits with ErrInvalidRequest.
func (l OutputLimits) Check(width, height, fps int) error {
	if width <= 0 || height <= 0 || fps <= 0 {
		return fmt.Errorf("%w: size %dx%d at %d samples/s", ErrInvalidRequest, width, height, fps)
	}
	if width > l.MaxWidth || height > l.MaxHeight {
		return fmt.Errorf("%w: resolution %dx%d exceeds the %dx%d limit", ErrInvalidRequest, width, height, l.MaxWidth, l.MaxHeight)
	}
	if fps > l.MaxFPS {
		return fmt.Errorf("%w: %d samples/s exceeds the limit of %d", ErrInvalidRequest, fps, l.MaxFPS)
	}
	return nil
}

func FormatResolution(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// ParseResolution accepts a preset key ("144") or a literal "WIDTHxHEIGHT".
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if r, ok := ResolutionPresets[strings.TrimSuffix(s, "p")]; ok {
		return r, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Resolution{}, fmt.Errorf("%w: unknown resolution %q", ErrInvalidRequest, s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: resolution width %q", ErrInvalidRequest, w)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: resolution height %q", ErrInvalidRequest, h)
	}
	if width <= 0 || height <= 0 {
		return Resolution{}, fmt.Errorf("%w: resolution %q must be positive", ErrInvalidRequest, s)
	}
	if width > MaxDimension || height > MaxDimension {
		return Resolution{}, fmt.Errorf("%w: resolution %q exceeds %d pixels per side", ErrInvalidRequest, s, MaxDimension)
	}
	return Resolution{Width: width, Height: height}, nil
}
