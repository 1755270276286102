package ai

import (
	"context"
	"fmt"

	"github.com/keagan/panelreel/internal/clips"
)

const inpaintPrompt = `Remove all text from this comic panel: speech bubbles, captions, sound effects and signs.
Fill the removed areas so they blend with the surrounding artwork. Keep everything else unchanged, including the image size.`

// RemoveText returns a copy of the panel with lettering painted out. The
// result keeps the source image id.
func (c *Client) RemoveText(ctx context.Context, img *clips.SourceImage) (*clips.SourceImage, error) {
	reply, err := c.generate(ctx, c.cfg.ImageModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{
			textPart(inpaintPrompt),
			dataPart(img.MimeType, img.Data),
		}}},
		GenerationConfig: &generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	})
	if err != nil {
		return nil, fmt.Errorf("text removal: %w", err)
	}

	mime, data, err := reply.inline()
	if err != nil {
		return nil, fmt.Errorf("text removal: %w", err)
	}
	if mime == "" {
		mime = img.MimeType
	}

	edited, err := img.WithData(mime, data)
	if err != nil {
		return nil, fmt.Errorf("text removal returned an unreadable image: %w", err)
	}

	c.logger.Debug().
		Str("image", img.ID).
		Int("width", edited.Width).
		Int("height", edited.Height).
		Msg("text removed")

	return edited, nil
}
