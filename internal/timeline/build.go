package timeline

import (
	"errors"
	"fmt"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/rs/zerolog"
)

// ErrNoClips is returned when no timing entry survives validation.
var ErrNoClips = errors.New("timeline has no usable clips")

// Builder turns panel timings into a contiguous clip timeline.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a timeline builder
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{
		logger: logger.With().Str("component", "timeline").Logger(),
	}
}

type entry struct {
	panel int
	start float64
}

// Build converts timings into clips covering [0, total). Entries with a panel
// index outside [1, len(panels)] or a start time that does not increase are
// skipped with a warning. The first accepted entry always starts at 0.
// Clips no longer than clips.DurationTolerance are dropped and their interval
// is given to a neighbour, so the result stays contiguous and sums to total.
func (b *Builder) Build(timings []clips.PanelTiming, panels []clips.Panel, total float64) (clips.RenderTimeline, error) {
	if total <= 0 {
		return clips.RenderTimeline{}, fmt.Errorf("total duration must be positive, got %.3f", total)
	}

	entries := b.accept(timings, len(panels), total)
	if len(entries) == 0 {
		return clips.RenderTimeline{}, ErrNoClips
	}

	out := make([]clips.Clip, 0, len(entries))
	carry := 0.0
	for i, e := range entries {
		end := total
		if i+1 < len(entries) {
			end = entries[i+1].start
		}
		duration := end - e.start

		if duration <= clips.DurationTolerance {
			b.logger.Debug().
				Int("panel", e.panel).
				Float64("start", e.start).
				Float64("duration", duration).
				Msg("dropping degenerate clip")
			if len(out) > 0 {
				out[len(out)-1].Duration += duration
			} else {
				carry += duration
			}
			continue
		}

		panel := panels[e.panel-1]
		out = append(out, clips.Clip{
			StartTime: e.start - carry,
			Duration:  duration + carry,
			Panel:     e.panel,
			Image:     panel.Image,
			Regions:   cloneRegions(panel.Regions),
		})
		carry = 0
	}

	if len(out) == 0 {
		return clips.RenderTimeline{}, ErrNoClips
	}

	b.logger.Debug().
		Int("clips", len(out)).
		Float64("duration", total).
		Msg("timeline built")

	return clips.RenderTimeline{Clips: out, TotalDuration: total}, nil
}

func (b *Builder) accept(timings []clips.PanelTiming, panelCount int, total float64) []entry {
	entries := make([]entry, 0, len(timings))
	for _, t := range timings {
		if t.Panel < 1 || t.Panel > panelCount {
			b.logger.Warn().
				Int("panel", t.Panel).
				Int("panel_count", panelCount).
				Msg("skipping timing for unknown panel")
			continue
		}

		start := t.StartTime
		if len(entries) == 0 {
			if start != 0 {
				b.logger.Debug().Float64("start", start).Msg("forcing first panel to start at 0")
			}
			start = 0
		} else if start <= entries[len(entries)-1].start {
			b.logger.Warn().
				Int("panel", t.Panel).
				Float64("start", start).
				Float64("previous", entries[len(entries)-1].start).
				Msg("skipping non-increasing start time")
			continue
		}

		if start >= total {
			b.logger.Warn().
				Int("panel", t.Panel).
				Float64("start", start).
				Float64("total", total).
				Msg("skipping timing past the end of the narration")
			continue
		}

		entries = append(entries, entry{panel: t.Panel, start: start})
	}
	return entries
}

// cloneRegions gives the clip its own regions so edits to one clip never
// reach another clip showing the same panel.
func cloneRegions(regions []clips.CropRegion) []clips.CropRegion {
	if len(regions) == 0 {
		return nil
	}
	out := make([]clips.CropRegion, len(regions))
	for i, r := range regions {
		out[i] = clips.NewCropRegion(r.X, r.Y, r.Width, r.Height)
	}
	return out
}
