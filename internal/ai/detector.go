package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/nfnt/resize"
)

const (
	// maxDetectRegions caps how many subjects one panel is split into.
	maxDetectRegions = 3
	// detectMaxSide is the longest side sent for detection; larger panels
	// are downscaled first and boxes are mapped back.
	detectMaxSide = 1024
)

const detectPrompt = `This comic panel is %d pixels wide and %d pixels tall.
Find the 1 to 3 most important subjects (characters, faces, key objects) a viewer should focus on.
Answer with a JSON array only, e.g. [{"x":10,"y":20,"width":300,"height":400}],
using pixel coordinates of this image with the origin at the top left.`

// DetectSubjects returns 1-3 crop regions around the panel's subjects. Any
// failure other than cancellation falls back to one full-image region.
func (c *Client) DetectSubjects(ctx context.Context, img *clips.SourceImage) ([]clips.CropRegion, error) {
	full := []clips.CropRegion{clips.FullRegion(img)}

	mime, data, scale, err := detectionImage(img)
	if err != nil {
		c.logger.Warn().Err(err).Str("image", img.ID).Msg("cannot prepare panel for detection, using full image")
		return full, nil
	}
	sentW := int(float64(img.Width) / scale)
	sentH := int(float64(img.Height) / scale)

	reply, err := c.generate(ctx, c.cfg.TextModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{
			textPart(fmt.Sprintf(detectPrompt, sentW, sentH)),
			dataPart(mime, data),
		}}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("image", img.ID).Msg("subject detection failed, using full image")
		return full, nil
	}

	text, err := reply.text()
	if err != nil {
		c.logger.Warn().Err(err).Str("image", img.ID).Msg("empty detection response, using full image")
		return full, nil
	}

	regions := parseCropResponse(text, scale, img.Width, img.Height)
	if len(regions) == 0 {
		c.logger.Warn().Str("image", img.ID).Str("response", truncate(text, 200)).Msg("no usable subject boxes, using full image")
		return full, nil
	}

	c.logger.Debug().
		Str("image", img.ID).
		Int("regions", len(regions)).
		Msg("subjects detected")

	return regions, nil
}

// detectionImage returns the bytes to send and the factor that maps sent
// coordinates back to source pixels.
func detectionImage(img *clips.SourceImage) (string, []byte, float64, error) {
	if img.Width <= detectMaxSide && img.Height <= detectMaxSide {
		return img.MimeType, img.Data, 1, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return "", nil, 0, fmt.Errorf("decode panel: %w", err)
	}

	var small image.Image
	if img.Width >= img.Height {
		small = resize.Resize(detectMaxSide, 0, decoded, resize.Bilinear)
	} else {
		small = resize.Resize(0, detectMaxSide, decoded, resize.Bilinear)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return "", nil, 0, fmt.Errorf("encode downscaled panel: %w", err)
	}
	scale := float64(img.Width) / float64(small.Bounds().Dx())
	return "image/png", buf.Bytes(), scale, nil
}

type box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// parseCropResponse reads boxes, maps them to source pixels and clamps them
// to the image. Unparseable input yields no regions.
func parseCropResponse(text string, scale float64, width, height int) []clips.CropRegion {
	var boxes []box
	if err := json.Unmarshal([]byte(stripFences(text)), &boxes); err != nil {
		return nil
	}

	var regions []clips.CropRegion
	for _, b := range boxes {
		r := clips.NewCropRegion(
			int(b.X*scale),
			int(b.Y*scale),
			int(b.Width*scale),
			int(b.Height*scale),
		)
		clamped, ok := r.Clamp(width, height)
		if !ok {
			continue
		}
		regions = append(regions, clamped)
		if len(regions) == maxDetectRegions {
			break
		}
	}
	return regions
}
