package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keagan/panelreel/internal/clips"
)

const timingPrompt = `Below is the narration script of a comic recap read aloud over %.2f seconds.
The comic has %d panels, numbered 1 to %d, and they are shown in order while the narration plays.
Decide when each panel should appear so the visuals follow the story.
Answer with a JSON array only, e.g. [{"panel":1,"startTime":0},{"panel":2,"startTime":4.2}].
Start times are in seconds, strictly increasing, below %.2f, and the first one is 0.

Script:
%s`

// InferTimings asks the model when each panel should appear. The first
// entry always starts at 0. Entries are returned as given otherwise; the
// timeline builder drops anything out of range.
func (c *Client) InferTimings(ctx context.Context, script string, panelCount int, duration float64) ([]clips.PanelTiming, error) {
	if panelCount <= 0 {
		return nil, fmt.Errorf("panel count must be positive")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("narration duration must be positive")
	}

	reply, err := c.generate(ctx, c.cfg.TextModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{
			textPart(fmt.Sprintf(timingPrompt, duration, panelCount, panelCount, duration, script)),
		}}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("timing inference: %w", err)
	}
	text, err := reply.text()
	if err != nil {
		return nil, fmt.Errorf("timing inference: %w", err)
	}

	timings, err := parseTimingResponse(text)
	if err != nil {
		return nil, fmt.Errorf("timing inference: %w", err)
	}

	c.logger.Info().
		Int("entries", len(timings)).
		Int("panels", panelCount).
		Msg("panel timings inferred")

	return timings, nil
}

func parseTimingResponse(text string) ([]clips.PanelTiming, error) {
	var timings []clips.PanelTiming
	if err := json.Unmarshal([]byte(stripFences(text)), &timings); err != nil {
		return nil, fmt.Errorf("parse timings: %w", err)
	}
	if len(timings) == 0 {
		return nil, ErrEmptyResponse
	}
	timings[0].StartTime = 0
	return timings, nil
}
