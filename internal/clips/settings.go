package clips

import (
	"fmt"
	"sort"
)

// Transition selects how consecutive clips are joined.
type Transition string

// TransitionCut is a hard cut (plain concatenation). Every other value names
// an ffmpeg xfade transition.
const TransitionCut Transition = "cut"

var transitions = map[Transition]bool{
	TransitionCut: true,
	"fade":        true,
	"fadeblack":   true,
	"dissolve":    true,
	"wipeleft":    true,
	"wiperight":   true,
	"slideleft":   true,
	"slideright":  true,
	"circleopen":  true,
}

// Animation is the motion applied to each crop region over a clip.
type Animation string

const (
	AnimationNone Animation = "none"
	AnimationZoom Animation = "zoom"
	AnimationPan  Animation = "pan"
)

// resolutionPresets maps a preset name to pixel sizes keyed by aspect ratio.
var resolutionPresets = map[string]map[string][2]int{
	"480p": {
		"16:9": {854, 480},
		"9:16": {480, 854},
		"1:1":  {480, 480},
		"4:3":  {640, 480},
		"3:4":  {480, 640},
	},
	"720p": {
		"16:9": {1280, 720},
		"9:16": {720, 1280},
		"1:1":  {720, 720},
		"4:3":  {960, 720},
		"3:4":  {720, 960},
	},
	"1080p": {
		"16:9": {1920, 1080},
		"9:16": {1080, 1920},
		"1:1":  {1080, 1080},
		"4:3":  {1440, 1080},
		"3:4":  {1080, 1440},
	},
}

// VideoSettings is the immutable configuration of one render.
type VideoSettings struct {
	Resolution  string     `json:"resolution"`
	AspectRatio string     `json:"aspectRatio"`
	FrameRate   int        `json:"frameRate"`
	Transition  Transition `json:"transition"`
	Animation   Animation  `json:"animation"`
}

// DefaultSettings matches the defaults in config.
func DefaultSettings() VideoSettings {
	return VideoSettings{
		Resolution:  "720p",
		AspectRatio: "16:9",
		FrameRate:   30,
		Transition:  "fade",
		Animation:   AnimationZoom,
	}
}

// Canvas returns the output pixel size.
func (s VideoSettings) Canvas() (width, height int, err error) {
	byAspect, ok := resolutionPresets[s.Resolution]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution preset %q", s.Resolution)
	}
	size, ok := byAspect[s.AspectRatio]
	if !ok {
		return 0, 0, fmt.Errorf("unknown aspect ratio %q", s.AspectRatio)
	}
	return size[0], size[1], nil
}

// Validate rejects settings the compiler cannot express.
func (s VideoSettings) Validate() error {
	if _, _, err := s.Canvas(); err != nil {
		return err
	}
	if s.FrameRate <= 0 || s.FrameRate > 120 {
		return fmt.Errorf("frame rate must be within 1..120, got %d", s.FrameRate)
	}
	if !transitions[s.Transition] {
		return fmt.Errorf("unknown transition %q", s.Transition)
	}
	switch s.Animation {
	case AnimationNone, AnimationZoom, AnimationPan:
	default:
		return fmt.Errorf("unknown animation %q", s.Animation)
	}
	return nil
}

// Resolutions lists the preset names.
func Resolutions() []string {
	names := make([]string, 0, len(resolutionPresets))
	for name := range resolutionPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AspectRatios lists the supported aspect ratios.
func AspectRatios() []string {
	return []string{"16:9", "9:16", "1:1", "4:3", "3:4"}
}

// Transitions lists the supported transition names.
func Transitions() []string {
	names := make([]string, 0, len(transitions))
	for t := range transitions {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
