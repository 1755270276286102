package ffmpeg

import (
	"fmt"
	"math"

	"github.com/keagan/panelreel/internal/clips"
)

// CrossfadeDuration is the nominal length of one transition, in seconds.
const CrossfadeDuration = 0.5

// TransitionPlan holds the timing of every clip boundary.
type TransitionPlan struct {
	// Lengths is how long each clip stream must be. Clips after the first
	// are longer than their timeline duration by the incoming fade, since
	// that much of them plays underneath the previous clip.
	Lengths []float64
	// Fades[i] and Offsets[i] describe the boundary between clip i and i+1.
	Fades   []float64
	Offsets []float64
	// Total is the duration of the composited stream.
	Total float64
}

// PlanTransitions computes boundary timing for clips of the given durations.
// Each fade lasts min(CrossfadeDuration, previous, next) and starts at the
// sum of all prior durations minus its own length.
func PlanTransitions(durations []float64, transition clips.Transition) TransitionPlan {
	plan := TransitionPlan{Lengths: append([]float64(nil), durations...)}
	for _, d := range durations {
		plan.Total += d
	}
	if len(durations) < 2 || transition == clips.TransitionCut {
		return plan
	}

	elapsed := durations[0]
	for i := 1; i < len(durations); i++ {
		fade := math.Min(CrossfadeDuration, math.Min(durations[i-1], durations[i]))
		plan.Fades = append(plan.Fades, fade)
		plan.Offsets = append(plan.Offsets, math.Max(0, elapsed-fade))
		plan.Lengths[i] = durations[i] + fade
		elapsed += durations[i]
	}
	return plan
}

// Composite joins per-clip streams into one stream and returns its label.
// A single clip is passed through untouched.
func Composite(g *Graph, streams []Label, plan TransitionPlan, transition clips.Transition) (Label, error) {
	switch {
	case len(streams) == 0:
		return "", fmt.Errorf("no clip streams to composite")
	case len(streams) != len(plan.Lengths):
		return "", fmt.Errorf("%d clip streams but %d planned clips", len(streams), len(plan.Lengths))
	case len(streams) == 1:
		return streams[0], nil
	}

	if transition == clips.TransitionCut {
		return g.Chain(streams, NewFilter("concat",
			KV("n", len(streams)),
			KV("v", 1),
			KV("a", 0),
		)), nil
	}

	current := streams[0]
	for i := 1; i < len(streams); i++ {
		current = g.Chain([]Label{current, streams[i]}, NewFilter("xfade",
			KV("transition", string(transition)),
			KV("duration", plan.Fades[i-1]),
			KV("offset", plan.Offsets[i-1]),
		))
	}
	return current, nil
}
