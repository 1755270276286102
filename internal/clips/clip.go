package clips

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DurationTolerance is the slack allowed when comparing timeline sums and
// boundaries, in seconds.
const DurationTolerance = 0.01

// SourceImage is an immutable panel image shared by every clip that shows it.
type SourceImage struct {
	ID       string
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

// NewSourceImage decodes the image header to learn its pixel size and
// assigns a fresh id.
func NewSourceImage(mime string, data []byte) (*SourceImage, error) {
	if len(data) == 0 {
		return nil, errors.New("image data is empty")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	return &SourceImage{
		ID:       uuid.NewString(),
		MimeType: mime,
		Data:     data,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// WithData returns a new image with the same id and replaced pixels, used
// when an edit (text removal) produces a new rendition of the same panel.
func (s *SourceImage) WithData(mime string, data []byte) (*SourceImage, error) {
	edited, err := NewSourceImage(mime, data)
	if err != nil {
		return nil, err
	}
	edited.ID = s.ID
	return edited, nil
}

// CropRegion is a rectangle in source-image pixel space.
type CropRegion struct {
	ID     string `json:"id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// NewCropRegion creates a region with a fresh id.
func NewCropRegion(x, y, w, h int) CropRegion {
	return CropRegion{ID: uuid.NewString(), X: x, Y: y, Width: w, Height: h}
}

// FullRegion spans the whole image.
func FullRegion(img *SourceImage) CropRegion {
	return NewCropRegion(0, 0, img.Width, img.Height)
}

// Validate checks the region lies inside an image of the given size.
func (r CropRegion) Validate(imageWidth, imageHeight int) error {
	switch {
	case r.Width <= 0 || r.Height <= 0:
		return fmt.Errorf("crop region %s has non-positive size %dx%d", r.ID, r.Width, r.Height)
	case r.X < 0 || r.Y < 0:
		return fmt.Errorf("crop region %s has negative origin (%d,%d)", r.ID, r.X, r.Y)
	case r.X+r.Width > imageWidth || r.Y+r.Height > imageHeight:
		return fmt.Errorf("crop region %s exceeds image bounds %dx%d", r.ID, imageWidth, imageHeight)
	}
	return nil
}

// IsFull reports whether the region covers the entire image.
func (r CropRegion) IsFull(imageWidth, imageHeight int) bool {
	return r.X == 0 && r.Y == 0 && r.Width == imageWidth && r.Height == imageHeight
}

// Clamp returns the region clipped to the image bounds. A region that ends up
// empty is reported with ok=false.
func (r CropRegion) Clamp(imageWidth, imageHeight int) (CropRegion, bool) {
	x0 := clampInt(r.X, 0, imageWidth)
	y0 := clampInt(r.Y, 0, imageHeight)
	x1 := clampInt(r.X+r.Width, 0, imageWidth)
	y1 := clampInt(r.Y+r.Height, 0, imageHeight)
	out := CropRegion{ID: r.ID, X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	return out, out.Width > 0 && out.Height > 0
}

func clampInt(v, lo, hi int) int {
	return int(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
}

// Clip is one segment of the final timeline.
type Clip struct {
	StartTime float64
	Duration  float64
	// Panel is the 1-based panel index the clip was built from.
	Panel   int
	Image   *SourceImage
	Regions []CropRegion
}

// End returns the clip's end time.
func (c Clip) End() float64 {
	return c.StartTime + c.Duration
}

// EffectiveRegions returns the clip's regions, or the implicit full-image
// region when none were set.
func (c Clip) EffectiveRegions() []CropRegion {
	if len(c.Regions) == 0 {
		return []CropRegion{FullRegion(c.Image)}
	}
	return c.Regions
}

// RenderTimeline is the ordered clip list for one render.
type RenderTimeline struct {
	Clips         []Clip
	TotalDuration float64
}

// Validate checks durations are positive, clips are contiguous from zero, the
// last clip ends at the total duration and every crop region is in bounds.
func (t RenderTimeline) Validate() error {
	if len(t.Clips) == 0 {
		return errors.New("timeline has no clips")
	}
	if t.TotalDuration <= 0 {
		return fmt.Errorf("timeline duration must be positive, got %.3f", t.TotalDuration)
	}

	expectedStart := 0.0
	sum := 0.0
	for i, c := range t.Clips {
		if c.Image == nil {
			return fmt.Errorf("clip %d has no image", i)
		}
		if c.Duration <= 0 {
			return fmt.Errorf("clip %d has non-positive duration %.3f", i, c.Duration)
		}
		if math.Abs(c.StartTime-expectedStart) > DurationTolerance {
			return fmt.Errorf("clip %d starts at %.3f, expected %.3f", i, c.StartTime, expectedStart)
		}
		for _, r := range c.Regions {
			if err := r.Validate(c.Image.Width, c.Image.Height); err != nil {
				return fmt.Errorf("clip %d: %w", i, err)
			}
		}
		expectedStart = c.End()
		sum += c.Duration
	}

	if math.Abs(sum-t.TotalDuration) > DurationTolerance {
		return fmt.Errorf("clip durations sum to %.3f, expected %.3f", sum, t.TotalDuration)
	}
	return nil
}

// Durations returns the clip durations in timeline order.
func (t RenderTimeline) Durations() []float64 {
	out := make([]float64, len(t.Clips))
	for i, c := range t.Clips {
		out[i] = c.Duration
	}
	return out
}

// PanelTiming is one entry of the timing-inference output.
type PanelTiming struct {
	Panel     int     `json:"panel"`
	StartTime float64 `json:"startTime"`
}

// Panel pairs a source image with the crop regions chosen for it.
type Panel struct {
	Image   *SourceImage
	Regions []CropRegion
}
