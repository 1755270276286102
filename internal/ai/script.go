package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/keagan/panelreel/internal/clips"
)

// historyWarnImages is the number of images carried in conversation history
// after which script generation logs a scaling warning.
const historyWarnImages = 60

const scriptSystemPrompt = `You are narrating a comic for a video recap.
You will receive its panels in order, a batch at a time.
For each batch, continue the story from where the previous narration ended.
Write spoken narration only: no headings, no panel numbers, no stage directions.
Write in %s.`

// GenerateScript writes narration for the panels. Panels are sent in
// batches of batchSize, one request after another, each carrying the whole
// conversation so far so the story stays coherent. History grows with every
// batch and is never trimmed.
func (c *Client) GenerateScript(ctx context.Context, images []*clips.SourceImage, language string, batchSize int) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("no panels to narrate")
	}
	if batchSize <= 0 {
		batchSize = len(images)
	}
	if language == "" {
		language = "English"
	}

	system := content{Parts: []part{textPart(fmt.Sprintf(scriptSystemPrompt, language))}}
	var history []content
	var sections []string
	sent := 0

	for start := 0; start < len(images); start += batchSize {
		end := min(start+batchSize, len(images))

		prompt := fmt.Sprintf("Panels %d to %d of %d. Continue the narration.", start+1, end, len(images))
		if start == 0 {
			prompt = fmt.Sprintf("Panels %d to %d of %d. Begin the narration.", start+1, end, len(images))
		}
		turn := content{Role: "user", Parts: []part{textPart(prompt)}}
		for _, img := range images[start:end] {
			turn.Parts = append(turn.Parts, dataPart(img.MimeType, img.Data))
		}
		history = append(history, turn)
		sent += end - start

		if sent > historyWarnImages {
			c.logger.Warn().
				Int("images_in_history", sent).
				Int("turns", len(history)).
				Msg("script conversation is large, requests may exceed model context")
		}

		reply, err := c.generate(ctx, c.cfg.TextModel, generateRequest{
			Contents:          history,
			SystemInstruction: &system,
		})
		if err != nil {
			return "", fmt.Errorf("script batch %d-%d: %w", start+1, end, err)
		}
		text, err := reply.text()
		if err != nil {
			return "", fmt.Errorf("script batch %d-%d: %w", start+1, end, err)
		}

		history = append(history, content{Role: "model", Parts: []part{textPart(text)}})
		sections = append(sections, text)

		c.logger.Info().
			Int("from", start+1).
			Int("to", end).
			Int("chars", len(text)).
			Msg("script batch written")
	}

	return strings.Join(sections, "\n\n"), nil
}
