package ffmpeg

import (
	"fmt"
	"math"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/timeline"
	"github.com/rs/zerolog"
)

const (
	// MaxZoom is the magnification a zoom animation reaches at clip end.
	MaxZoom = 1.25
	// PanZoom is the fixed magnification used while panning.
	PanZoom = 1.2
)

// Compiler turns timeline clips into per-clip filter chains.
type Compiler struct {
	logger   zerolog.Logger
	settings clips.VideoSettings
	width    int
	height   int
}

// NewCompiler creates a compiler for the given output settings.
func NewCompiler(logger zerolog.Logger, settings clips.VideoSettings) (*Compiler, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid video settings: %w", err)
	}
	w, h, _ := settings.Canvas()
	return &Compiler{
		logger:   logger.With().Str("component", "compiler").Logger(),
		settings: settings,
		width:    w,
		height:   h,
	}, nil
}

// Canvas returns the output frame size.
func (c *Compiler) Canvas() (int, int) {
	return c.width, c.height
}

// Compile adds one chain per clip to g and returns the clip output labels in
// timeline order. lengths gives each clip stream's trimmed length.
func (c *Compiler) Compile(g *Graph, tl clips.RenderTimeline, assets timeline.Assets, lengths []float64) ([]Label, error) {
	if len(lengths) != len(tl.Clips) {
		return nil, fmt.Errorf("%d lengths for %d clips", len(lengths), len(tl.Clips))
	}

	regions := make([][]clips.CropRegion, len(tl.Clips))
	uses := make([]int, len(assets.Images))
	for i, clip := range tl.Clips {
		slot, ok := assets.Slot(clip.Image)
		if !ok {
			return nil, fmt.Errorf("clip %d references an image without an input slot", i)
		}
		regions[i] = clip.EffectiveRegions()
		for _, r := range regions[i] {
			if err := r.Validate(clip.Image.Width, clip.Image.Height); err != nil {
				return nil, fmt.Errorf("clip %d: %w", i, err)
			}
		}
		uses[slot] += len(regions[i])
	}

	branches := c.splitInputs(g, uses)

	outputs := make([]Label, len(tl.Clips))
	for i, clip := range tl.Clips {
		slot, _ := assets.Slot(clip.Image)

		subs := make([]Label, len(regions[i]))
		for j, r := range regions[i] {
			src := branches[slot][0]
			branches[slot] = branches[slot][1:]
			subs[j] = g.Chain([]Label{src}, c.regionFilters(clip, r)...)
		}

		combined := subs[0]
		if len(subs) > 1 {
			combined = g.Chain(subs, NewFilter("hstack", KV("inputs", len(subs))))
		}

		outputs[i] = g.Chain([]Label{combined}, c.canvasFilters(lengths[i])...)

		c.logger.Debug().
			Int("clip", i).
			Int("slot", slot).
			Int("regions", len(subs)).
			Float64("length", lengths[i]).
			Str("label", string(outputs[i])).
			Msg("compiled clip")
	}
	return outputs, nil
}

// splitInputs gives every input one branch per use. A filter graph stream
// can only be consumed once, so shared images go through split.
func (c *Compiler) splitInputs(g *Graph, uses []int) [][]Label {
	branches := make([][]Label, len(uses))
	for slot, n := range uses {
		in := InputStream(slot, "v")
		switch n {
		case 0:
		case 1:
			branches[slot] = []Label{in}
		default:
			branches[slot] = g.Fan([]Label{in}, n, NewFilter("split", Pos(n)))
		}
	}
	return branches
}

// regionFilters crops one region and animates it at canvas height.
func (c *Compiler) regionFilters(clip clips.Clip, r clips.CropRegion) []Filter {
	var filters []Filter
	if !r.IsFull(clip.Image.Width, clip.Image.Height) {
		filters = append(filters, NewFilter("crop", Pos(r.Width), Pos(r.Height), Pos(r.X), Pos(r.Y)))
	}

	h := c.height
	w := even(float64(r.Width) * float64(h) / float64(r.Height))
	frames := int(math.Ceil(clip.Duration * float64(c.settings.FrameRate)))
	if frames < 1 {
		frames = 1
	}
	progress := fmt.Sprintf("min(on/%d,1)", frames)
	size := fmt.Sprintf("%dx%d", w, h)

	switch c.settings.Animation {
	case clips.AnimationZoom:
		filters = append(filters, NewFilter("zoompan",
			KV("z", fmt.Sprintf("1+%.3f*%s", MaxZoom-1, progress)),
			KV("x", "iw/2-(iw/zoom/2)"),
			KV("y", "ih/2-(ih/zoom/2)"),
			KV("d", 1),
			KV("s", size),
			KV("fps", c.settings.FrameRate),
		))
	case clips.AnimationPan:
		filters = append(filters, NewFilter("zoompan",
			KV("z", fmt.Sprintf("%.3f", PanZoom)),
			KV("x", "iw/2-(iw/zoom/2)"),
			KV("y", "(ih-ih/zoom)*"+progress),
			KV("d", 1),
			KV("s", size),
			KV("fps", c.settings.FrameRate),
		))
	default:
		filters = append(filters, NewFilter("scale", Pos(w), Pos(h)))
	}
	return append(filters, NewFilter("setsar", Pos(1)))
}

// canvasFilters letterboxes onto the canvas and trims to the clip length
// with timestamps starting at zero.
func (c *Compiler) canvasFilters(length float64) []Filter {
	return []Filter{
		NewFilter("scale", Pos(c.width), Pos(c.height), KV("force_original_aspect_ratio", "decrease")),
		NewFilter("pad", Pos(c.width), Pos(c.height), Pos("(ow-iw)/2"), Pos("(oh-ih)/2"), KV("color", "black")),
		NewFilter("setsar", Pos(1)),
		NewFilter("fps", Pos(c.settings.FrameRate)),
		NewFilter("format", Pos("yuv420p")),
		NewFilter("trim", KV("duration", length)),
		NewFilter("setpts", Pos("PTS-STARTPTS")),
	}
}

func even(v float64) int {
	n := int(math.Round(v))
	if n%2 != 0 {
		n++
	}
	if n < 2 {
		n = 2
	}
	return n
}
